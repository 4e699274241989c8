package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/vtkrishna/kypseli/internal/config"
	"github.com/vtkrishna/kypseli/internal/store"
	"github.com/vtkrishna/kypseli/internal/vault"
)

func runVault(args []string) error {
	if len(args) == 0 {
		printVaultUsage()
		return nil
	}

	passphrase := os.Getenv("KYPSELI_VAULT_PASSPHRASE")
	if passphrase == "" {
		return fmt.Errorf("KYPSELI_VAULT_PASSPHRASE environment variable is required")
	}
	v, err := vault.New(passphrase)
	if err != nil {
		return fmt.Errorf("init vault: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	switch args[0] {
	case "list":
		return vaultList(db)
	case "set":
		return vaultSet(db, v, args[1:])
	case "get":
		return vaultGet(db, v, args[1:])
	case "delete":
		return vaultDelete(db, args[1:])
	case "assign":
		return vaultAssign(db, args[1:])
	case "unassign":
		return vaultUnassign(db, args[1:])
	case "global":
		return vaultGlobal(db, args[1:])
	default:
		printVaultUsage()
		return fmt.Errorf("unknown vault command: %s", args[0])
	}
}

func printVaultUsage() {
	fmt.Fprintf(os.Stderr, `Usage: kypseli vault <command>

Commands:
  list                                List all secrets (metadata only)
  set <name> --value <str> [--description <text>]   Store a string secret
  set <name> --file <path> [--description <text>]   Store a file secret
  get <name>                          Retrieve and decrypt a secret
  delete <name>                       Delete a secret
  assign <name> --type <agent-type>   Expose a secret to an agent type
  unassign <name> --type <agent-type> Withdraw a secret from an agent type
  global <name> --enable|--disable    Toggle access for every agent type

Environment:
  KYPSELI_VAULT_PASSPHRASE            Required. Encryption passphrase.
`)
}

func vaultList(db *store.Store) error {
	secrets, err := db.ListSecrets()
	if err != nil {
		return err
	}
	if len(secrets) == 0 {
		fmt.Println("No secrets stored.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tGLOBAL\tDESCRIPTION\tAGENT TYPES")
	for _, s := range secrets {
		global := ""
		if s.Global {
			global = "yes"
		}
		types, _ := db.SecretAssignments(s.ID)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, global, s.Description, strings.Join(types, ", "))
	}
	return w.Flush()
}

func vaultSet(db *store.Store, v *vault.Vault, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: kypseli vault set <name> --value <string> | --file <path> [--description <text>]")
	}

	name := args[0]
	var value []byte

	switch args[1] {
	case "--value":
		value = []byte(args[2])
	case "--file":
		data, err := os.ReadFile(args[2])
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		value = data
	default:
		return fmt.Errorf("expected --value or --file, got %s", args[1])
	}

	description := ""
	for i := 3; i < len(args)-1; i++ {
		if args[i] == "--description" {
			description = args[i+1]
			break
		}
	}

	ciphertext, nonce, err := v.Seal(value)
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}

	sec := &store.Secret{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Value:       ciphertext,
		Nonce:       nonce,
	}

	// Updating keeps the id and global flag so assignments survive.
	existing, _ := db.GetSecretByName(name)
	if existing != nil {
		sec.ID = existing.ID
		sec.Global = existing.Global
	}

	if err := db.SaveSecret(sec); err != nil {
		return err
	}
	fmt.Printf("Secret %q saved\n", name)
	return nil
}

func vaultGet(db *store.Store, v *vault.Vault, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: kypseli vault get <name>")
	}

	sec, err := db.GetSecretByName(args[0])
	if err != nil {
		return err
	}
	if sec == nil {
		return fmt.Errorf("secret %q not found", args[0])
	}

	plaintext, err := v.Open(sec.Value, sec.Nonce)
	if err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}

	fmt.Print(string(plaintext))
	if len(plaintext) > 0 && plaintext[len(plaintext)-1] != '\n' {
		fmt.Println()
	}
	return nil
}

func vaultDelete(db *store.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: kypseli vault delete <name>")
	}
	sec, err := db.GetSecretByName(args[0])
	if err != nil {
		return err
	}
	if sec == nil {
		return fmt.Errorf("secret %q not found", args[0])
	}
	if err := db.DeleteSecret(sec.ID); err != nil {
		return err
	}
	fmt.Printf("Secret %q deleted\n", args[0])
	return nil
}

func vaultAssign(db *store.Store, args []string) error {
	if len(args) < 3 || args[1] != "--type" {
		return fmt.Errorf("usage: kypseli vault assign <name> --type <agent-type>")
	}
	sec, err := db.GetSecretByName(args[0])
	if err != nil {
		return err
	}
	if sec == nil {
		return fmt.Errorf("secret %q not found", args[0])
	}
	if err := db.AssignSecret(sec.ID, args[2]); err != nil {
		return err
	}
	fmt.Printf("Secret %q assigned to agent type %q\n", args[0], args[2])
	return nil
}

func vaultUnassign(db *store.Store, args []string) error {
	if len(args) < 3 || args[1] != "--type" {
		return fmt.Errorf("usage: kypseli vault unassign <name> --type <agent-type>")
	}
	sec, err := db.GetSecretByName(args[0])
	if err != nil {
		return err
	}
	if sec == nil {
		return fmt.Errorf("secret %q not found", args[0])
	}
	if err := db.UnassignSecret(sec.ID, args[2]); err != nil {
		return err
	}
	fmt.Printf("Secret %q unassigned from agent type %q\n", args[0], args[2])
	return nil
}

func vaultGlobal(db *store.Store, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: kypseli vault global <name> --enable|--disable")
	}

	sec, err := db.GetSecretByName(args[0])
	if err != nil {
		return err
	}
	if sec == nil {
		return fmt.Errorf("secret %q not found", args[0])
	}

	var global bool
	switch args[1] {
	case "--enable":
		global = true
	case "--disable":
		global = false
	default:
		return fmt.Errorf("expected --enable or --disable, got %s", args[1])
	}

	if err := db.SetSecretGlobal(sec.ID, global); err != nil {
		return err
	}
	fmt.Printf("Secret %q global=%v\n", args[0], global)
	return nil
}
