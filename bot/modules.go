package bot

import (
	"context"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	"log/slog"
	"sync"
)

const (
	moduleSupportTickets = "support_tickets"
	moduleReportTickets  = "report_tickets"
	moduleSponsorTickets = "sponsor_tickets"
	moduleGames          = "games"
	moduleAutoVoice      = "auto_voice"
	moduleLogging        = "logging"
	moduleSmartChat      = "smart_chat"
	moduleCommandCenter  = "command_center"
	moduleAgents         = "agents"
	moduleAlerts         = "alerts"
)

var (
	ErrUnknownModule         = errors.New("unknown module")
	ErrModuleAlreadyEnabled  = errors.New("module already enabled")
	ErrModuleNotEnabled      = errors.New("module not enabled")
	errAgentsNotConfigured   = errors.New("agents are not configured")
	errCommandCenterDisabled = errors.New("command center channel is not configured")
)

// Module is a feature of the bot that can be switched on and off at
// runtime. Its components are only registered while it's enabled.
type Module struct {
	Name       string
	Components map[string]ComponentHandler

	// Load runs after the module is marked enabled. If it fails, the
	// module is disabled again.
	Load func(ctx context.Context) error

	// Unload runs after the module is marked disabled
	Unload func()
}

// ModuleManager tracks which modules are enabled
type ModuleManager struct {
	mu         sync.RWMutex
	modules    map[string]*Module
	order      []string
	enabled    map[string]bool
	components *ComponentRegistry
	logger     *slog.Logger
}

func NewModuleManager(components *ComponentRegistry, logger *slog.Logger) *ModuleManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModuleManager{
		modules:    map[string]*Module{},
		enabled:    map[string]bool{},
		components: components,
		logger:     logger.With(loggerNameKey, "modules"),
	}
}

// Add registers a module, initially disabled. Adding a module with an
// existing name replaces it.
func (m *ModuleManager) Add(mod *Module) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.modules[mod.Name]; !exists {
		m.order = append(m.order, mod.Name)
	}
	m.modules[mod.Name] = mod
}

// Enable registers the module's components and runs its Load hook
func (m *ModuleManager) Enable(ctx context.Context, name string) error {
	m.mu.Lock()
	mod, ok := m.modules[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}
	if m.enabled[name] {
		m.mu.Unlock()
		return ErrModuleAlreadyEnabled
	}
	m.enabled[name] = true
	m.mu.Unlock()

	for customID, handler := range mod.Components {
		m.components.Register(customID, handler)
	}
	if mod.Load != nil {
		if err := mod.Load(ctx); err != nil {
			m.mu.Lock()
			m.enabled[name] = false
			m.mu.Unlock()
			m.unregisterComponents(mod)
			return err
		}
	}
	m.logger.InfoContext(ctx, "enabled module", "module", name)
	return nil
}

// Disable unregisters the module's components and runs its Unload hook
func (m *ModuleManager) Disable(ctx context.Context, name string) error {
	m.mu.Lock()
	mod, ok := m.modules[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}
	if !m.enabled[name] {
		m.mu.Unlock()
		return ErrModuleNotEnabled
	}
	m.enabled[name] = false
	m.mu.Unlock()

	m.unregisterComponents(mod)
	if mod.Unload != nil {
		mod.Unload()
	}
	m.logger.InfoContext(ctx, "disabled module", "module", name)
	return nil
}

func (m *ModuleManager) unregisterComponents(mod *Module) {
	ids := make([]string, 0, len(mod.Components))
	for customID := range mod.Components {
		ids = append(ids, customID)
	}
	m.components.Unregister(ids...)
}

// Enabled reports whether the named module is enabled. A nil manager has
// nothing enabled.
func (m *ModuleManager) Enabled(name string) bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled[name]
}

// Names returns all module names, in the order they were added
func (m *ModuleManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}

func (m *ModuleManager) EnabledNames() []string {
	if m == nil {
		return []string{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := []string{}
	for _, name := range m.order {
		if m.enabled[name] {
			names = append(names, name)
		}
	}
	return names
}

// LoadAll enables each of the named modules. Failures are logged and
// don't stop the remaining modules from loading.
func (m *ModuleManager) LoadAll(ctx context.Context, names []string) {
	for _, name := range names {
		if err := m.Enable(ctx, name); err != nil {
			m.logger.ErrorContext(ctx, fmt.Sprintf("❌ Failed to load %s", name), tint.Err(err))
			continue
		}
		m.logger.InfoContext(ctx, fmt.Sprintf("✅ Loaded %s", name))
	}
}

// StatusMessage lists every module and whether it's enabled
func (m *ModuleManager) StatusMessage() string {
	names := m.Names()
	enabled := 0
	msg := "**📋 Module Status:**\n\n"
	for _, name := range names {
		status := "❌ Disabled"
		if m.Enabled(name) {
			status = "✅ Enabled"
			enabled++
		}
		msg += fmt.Sprintf("• **%s**: %s\n", name, status)
	}
	msg += fmt.Sprintf("\n**Total:** %d/%d modules enabled", enabled, len(names))
	return msg
}

// buildModules adds each of the bot's modules to b.modules
func (b *Bot) buildModules() {
	b.modules.Add(
		&Module{
			Name: moduleSupportTickets,
			Components: map[string]ComponentHandler{
				buttonCreateSupportTicket: b.handleCreateSupportTicket,
			},
		},
	)
	b.modules.Add(
		&Module{
			Name: moduleReportTickets,
			Components: map[string]ComponentHandler{
				buttonReportTheme:  b.handleCreateReportTicket("theme"),
				buttonReportPlugin: b.handleCreateReportTicket("plugin"),
			},
		},
	)
	b.modules.Add(
		&Module{
			Name: moduleSponsorTickets,
			Components: map[string]ComponentHandler{
				buttonBecomeSponsor:    b.handleCreateSponsorTicket(buttonBecomeSponsor),
				buttonClaimSponsorRole: b.handleCreateSponsorTicket(buttonClaimSponsorRole),
				buttonSubmitEnquiry:    b.handleCreateSponsorTicket(buttonSubmitEnquiry),
			},
		},
	)
	b.modules.Add(&Module{Name: moduleGames})
	b.modules.Add(&Module{Name: moduleAutoVoice})
	b.modules.Add(&Module{Name: moduleLogging})
	b.modules.Add(&Module{Name: moduleSmartChat})
	b.modules.Add(
		&Module{
			Name: moduleCommandCenter,
			Load: func(_ context.Context) error {
				if b.config.CommandCenter.ChannelID == "" {
					return errCommandCenterDisabled
				}
				b.registerPromptComponents()
				return nil
			},
			Unload: b.unregisterPromptComponents,
		},
	)
	b.modules.Add(
		&Module{
			Name: moduleAgents,
			Load: func(ctx context.Context) error {
				if b.manager == nil {
					if b.modelErr != nil {
						return b.modelErr
					}
					return errAgentsNotConfigured
				}
				if b.connected.Load() {
					b.reloadCatalog(ctx)
				}
				return nil
			},
		},
	)
	b.modules.Add(&Module{Name: moduleAlerts})
}
