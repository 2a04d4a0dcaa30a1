package bot

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"sync"
)

const componentUnavailableMessage = "⚠️ This feature is disabled or unavailable."

// ComponentHandler handles a button press or select menu choice
type ComponentHandler func(ctx context.Context, i *discordgo.InteractionCreate)

// ComponentRegistry maps component custom IDs to their handlers. Modules
// register their components when enabled, and remove them when disabled.
type ComponentRegistry struct {
	mu       sync.RWMutex
	handlers map[string]ComponentHandler
}

func NewComponentRegistry() *ComponentRegistry {
	return &ComponentRegistry{handlers: map[string]ComponentHandler{}}
}

// Register sets the handler for customID, replacing any existing one
func (r *ComponentRegistry) Register(customID string, handler ComponentHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[customID] = handler
}

func (r *ComponentRegistry) Unregister(customIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range customIDs {
		delete(r.handlers, id)
	}
}

// Handler returns the handler registered for customID
func (r *ComponentRegistry) Handler(customID string) (ComponentHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[customID]
	return h, ok
}

func (r *ComponentRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// componentRoute returns the key an interaction's component is registered
// under. Select menus route on the first selected value, buttons on
// their custom ID.
func componentRoute(data discordgo.MessageComponentInteractionData) string {
	if data.ComponentType == discordgo.SelectMenuComponent && len(data.Values) > 0 {
		return data.Values[0]
	}
	return data.CustomID
}

// dispatchComponent runs the handler registered for the interaction's
// component. Unknown components get an ephemeral notice.
func (b *Bot) dispatchComponent(ctx context.Context, i *discordgo.InteractionCreate) {
	route := componentRoute(i.MessageComponentData())
	handler, ok := b.components.Handler(route)
	if !ok {
		b.logger.WarnContext(ctx, "no handler for component", "custom_id", route)
		b.respondEphemeral(ctx, i, componentUnavailableMessage)
		return
	}
	handler(ctx, i)
}

// respondEphemeral replies to an interaction with a message only the
// user can see
func (b *Bot) respondEphemeral(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	content string,
	embeds ...*discordgo.MessageEmbed,
) {
	if err := b.session.InteractionRespond(
		i.Interaction,
		ephemeralResponse(content, embeds...),
		discordgo.WithContext(ctx),
	); err != nil {
		b.logger.ErrorContext(
			ctx,
			"error responding to interaction",
			append(interactionLogAttrs(*i), "error", err)...,
		)
	}
}
