package main

import "github.com/react-chatbotify/discord-bot/cmd"

func main() {
	cmd.Execute()
}
