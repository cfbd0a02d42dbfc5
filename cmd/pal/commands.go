package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/kalambet/pal/internal/config"
	"github.com/kalambet/pal/internal/profile"
)

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect and edit the stored profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.getProfile(cmd.Context())
		if err != nil {
			return err
		}
		if isNullData(resp.Data) {
			printWarning("No profile stored yet. Use `pal profile import <file>` to add one.")
			return nil
		}
		return writeIndented(cmd.OutOrStdout(), resp.Data)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a single profile field",
	Long: `Set a single profile field.

The value is stored as JSON when it parses as JSON (numbers, booleans,
arrays, objects) and as a plain string otherwise.

Examples:
  pal profile set name "Ada Lovelace"
  pal profile set age 36
  pal profile set languages '["en", "fr"]'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if _, err := client.updateProfile(cmd.Context(), map[string]any{key: fieldValue(value)}); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var profileImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Merge a .json, .yaml or .yml document into the profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.uploadProfile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printSuccess("%s", resp.Message)
		return nil
	},
}

var profileEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the profile in $EDITOR and merge the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vi"
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.getProfile(cmd.Context())
		if err != nil {
			return err
		}
		current := []byte("{}\n")
		if !isNullData(resp.Data) {
			var buf bytes.Buffer
			if err := writeIndented(&buf, resp.Data); err != nil {
				return err
			}
			current = buf.Bytes()
		}

		tmpFile, err := os.CreateTemp("", "pal-profile-*.json")
		if err != nil {
			return fmt.Errorf("creating temp file: %w", err)
		}
		tmpPath := tmpFile.Name()
		defer os.Remove(tmpPath)

		if _, err := tmpFile.Write(current); err != nil {
			tmpFile.Close()
			return err
		}
		tmpFile.Close()

		editorCmd := exec.Command(editor, tmpPath)
		editorCmd.Stdin = os.Stdin
		editorCmd.Stdout = os.Stdout
		editorCmd.Stderr = os.Stderr
		if err := editorCmd.Run(); err != nil {
			return fmt.Errorf("editor exited with error: %w", err)
		}

		edited, err := os.ReadFile(tmpPath)
		if err != nil {
			return err
		}

		updated, err := submitEdited(cmd.Context(), client, edited)
		if err != nil {
			return err
		}
		if !updated {
			printWarning("Profile is empty, nothing to save")
			return nil
		}
		// Merging never removes keys.
		printSuccess("Profile updated")
		return nil
	},
}

// submitEdited merges an edited JSON document into the profile, keeping
// the key order the user wrote. It reports false for an empty document.
func submitEdited(ctx context.Context, client *apiClient, edited []byte) (bool, error) {
	fields, err := profile.ParseJSON(edited)
	if err != nil {
		return false, fmt.Errorf("invalid JSON: %w", err)
	}
	if fields.IsEmpty() {
		return false, nil
	}
	if _, err := client.updateProfile(ctx, fields); err != nil {
		return false, err
	}
	return true, nil
}

func init() {
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileImportCmd)
	profileCmd.AddCommand(profileEditCmd)
}

// fieldValue decodes raw as JSON, falling back to the raw string.
func fieldValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return raw
	}
	return v
}

func isNullData(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// writeIndented re-indents a JSON document, keeping its key order.
func writeIndented(w io.Writer, data json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return fmt.Errorf("formatting profile: %w", err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to the assistant",
	Long: `Talk to the assistant.

With a message argument, sends one message and prints the reply. Without
arguments, starts an interactive session; type "exit" or press Ctrl-D to
leave.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if len(args) > 0 {
			return sendChat(cmd.Context(), client, cmd.OutOrStdout(), strings.Join(args, " "))
		}
		return chatREPL(cmd.Context(), client)
	},
}

func sendChat(ctx context.Context, client *apiClient, w io.Writer, message string) error {
	resp, err := client.chat(ctx, message)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, resp.Reply)
	if resp.MemoryUpdated {
		printMemoryNote(w)
	}
	return nil
}

func chatREPL(ctx context.Context, client *apiClient) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          colorize(colorBold, "you> "),
		HistoryFile:     chatHistoryPath(),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("starting prompt: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		if err := sendChat(ctx, client, rl.Stdout(), line); err != nil {
			printError("%v", err)
		}
	}
}

func chatHistoryPath() string {
	cfg, err := config.Load()
	if err != nil {
		return ""
	}
	return filepath.Join(cfg.Storage.DataDir, "chat_history")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		for _, ki := range config.ShowAll(cfg) {
			fmt.Fprintf(w, "%-22s %-28s %s\n", ki.Key, colorize(colorCyan, ki.EnvVar), ki.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write a configuration value to the config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w\nvalid keys: %s", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return fmt.Errorf("%w\nvalid keys: %s", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
