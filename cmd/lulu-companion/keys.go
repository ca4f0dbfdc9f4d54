package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/EasonC13-shadow/LuLuAICompanion/internal/credential"
	"github.com/EasonC13-shadow/LuLuAICompanion/internal/provider"
)

func addKeyCmd() *cobra.Command {
	var backup bool
	cmd := &cobra.Command{
		Use:   "add-key <api-key>",
		Short: "Store an API key (primary by default, --backup for a failover slot)",
		Long:  "Stores an API key in the credential file. The primary key is tried first; backup keys are the failover order. The " + credential.EnvKey + " environment variable, when set, takes precedence over all stored keys.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if !provider.IsValidKey(key) {
				return fmt.Errorf("unrecognized key format; expected an Anthropic, OpenAI, Gemini or relay key")
			}
			if err := os.MkdirAll(filepath.Dir(credentialStorePath()), 0o755); err != nil {
				return err
			}
			store := credential.NewFileStore(credentialStorePath())

			slot := credential.PrimarySlot
			if backup {
				var err error
				slot, err = store.NextFreeBackupSlot()
				if err != nil {
					return err
				}
			}
			if err := store.Save(slot, key); err != nil {
				return err
			}
			fmt.Printf("Stored %s in slot %q (%s)\n", credential.Mask(key), slot, provider.Detect(key))
			return nil
		},
	}
	cmd.Flags().BoolVar(&backup, "backup", false, "store in the next free backup slot instead of the primary")
	return cmd
}

func removeKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-key [slot]",
		Short: "Remove the primary key, or a backup slot given its number (1-9)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := credential.NewFileStore(credentialStorePath())

			slot := credential.PrimarySlot
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 || n > credential.MaxBackupSlots {
					return fmt.Errorf("backup slot must be a number between 1 and %d", credential.MaxBackupSlots)
				}
				slot = credential.BackupSlot(n)
			}
			if _, ok := store.Get(slot); !ok {
				return fmt.Errorf("no key stored in slot %q", slot)
			}
			if err := store.Delete(slot); err != nil {
				return err
			}
			fmt.Printf("Removed slot %q\n", slot)
			return nil
		},
	}
}

func listKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-keys",
		Short: "List stored keys, masked, in failover order",
		RunE: func(cmd *cobra.Command, args []string) error {
			if env := os.Getenv(credential.EnvKey); env != "" {
				fmt.Printf("env  %s  %s (%s)\n", credential.EnvKey, credential.Mask(env), provider.Detect(env))
			}
			store := credential.NewFileStore(credentialStorePath())
			slots := store.Slots()
			if len(slots) == 0 {
				fmt.Println("No stored keys. Add one with: lulu-companion add-key <key>")
				return nil
			}
			for _, slot := range slots {
				if value, ok := store.Get(slot); ok {
					fmt.Printf("     %-10s %s (%s)\n", slot, credential.Mask(value), provider.Detect(value))
				}
			}
			return nil
		},
	}
}
