package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	verbose      bool
	providerType string
	modelName    string
	personaPath  string
	interactive  bool
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "jarvis",
	Short: "Personal AI assistant with tiered episodic memory",
	Long: `Jarvis is a personal conversational assistant that remembers.
It imports your chat history into tiered episodic memory, recalls it
while you talk, and serves the same assistant over a terminal UI or HTTP.`,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant",
	Run: func(cmd *cobra.Command, args []string) {
		runChat()
	},
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.AddCommand(chatCmd)
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	chatCmd.Flags().StringVarP(&providerType, "provider", "p", "", "AI provider (ollama, openrouter, gemini, stub)")
	chatCmd.Flags().StringVarP(&modelName, "model", "m", "", "Chat model name (default depends on provider)")
	chatCmd.Flags().StringVar(&personaPath, "persona", "", "Persona file (.json or .yaml)")
	chatCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Start the full-screen TUI")
}
