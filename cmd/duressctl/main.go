package main

import (
	"bufio"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/org/duressvault/pkg/models"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "duressctl",
	Short: "DuressVault CLI",
	Long:  "A CLI for managing panic configurations and time-locked vaults.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(panicCmd())
	rootCmd.AddCommand(recoveryCmd())
	rootCmd.AddCommand(flagsCmd())
}

// readPIN prompts for the duress PIN unless one was given by flag. The PIN
// itself never leaves the machine; only its SHA-256 goes to the server.
func readPIN(cmd *cobra.Command) (string, error) {
	pin, _ := cmd.Flags().GetString("pin")
	if pin != "" {
		return pin, nil
	}
	fmt.Print("Duress PIN: ")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	pin = strings.TrimSpace(scanner.Text())
	if pin == "" {
		return "", fmt.Errorf("PIN must not be empty")
	}
	return pin, nil
}

// --- register ---

func registerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register [display-name]",
		Short: "Create an identity and save its token",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			client := newClient()
			result, err := client.post("/v1/auth/register", map[string]any{
				"display_name": name,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			if tok, ok := result["token"].(string); ok {
				cfg.Token = tok
				if addr, ok := result["address"].(string); ok {
					cfg.Identity = addr
				}
				if err := saveConfig(); err == nil {
					fmt.Fprintln(os.Stderr, "Token saved to config.")
				}
			}
			printResult(result)
			return nil
		},
	}
	return cmd
}

// --- login ---

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login <token>",
		Short: "Save an existing token to the config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Token = args[0]
			client := newClient()
			client.token = args[0]
			result, err := client.get("/v1/account/balance")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if addr, ok := result["address"].(string); ok {
				cfg.Identity = addr
			}
			if err := saveConfig(); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Token saved to config.")
			return nil
		},
	}
	return cmd
}

// --- account ---

func accountCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "account", Short: "Account commands"}

	balanceCmd := &cobra.Command{
		Use:   "balance",
		Short: "Show the caller's liquid balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/account/balance")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	fundCmd := &cobra.Command{
		Use:   "fund <amount>",
		Short: "Credit the caller's account (dev-mode faucet)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount: %s", args[0])
			}
			client := newClient()
			result, err := client.post("/v1/account/fund", map[string]any{
				"amount": amount,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(balanceCmd, fundCmd)
	return cmd
}

// --- panic ---

func panicCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "panic", Short: "Panic configuration and trigger"}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Initialize the panic configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			pin, err := readPIN(cmd)
			if err != nil {
				printError(err.Error())
				return nil
			}
			contacts, _ := cmd.Flags().GetStringSlice("contact")
			threshold, _ := cmd.Flags().GetUint8("threshold")
			lock, _ := cmd.Flags().GetInt64("lock")
			decoy, _ := cmd.Flags().GetUint64("decoy")

			hash := sha256.Sum256([]byte(pin))
			client := newClient()
			result, err := client.post("/v1/panic/config", map[string]any{
				"trigger_hash":       base64.StdEncoding.EncodeToString(hash[:]),
				"contacts":           contacts,
				"recovery_threshold": threshold,
				"time_lock_duration": lock,
				"decoy_amount":       decoy,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	configCmd.Flags().String("pin", "", "Duress PIN (prompted if omitted)")
	configCmd.Flags().StringSlice("contact", nil, "Recovery contact address (repeatable, max 5)")
	configCmd.Flags().Uint8("threshold", 0, "Approvals required to recover")
	configCmd.Flags().Int64("lock", 86400, "Time-lock duration in seconds")
	configCmd.Flags().Uint64("decoy", 0, "Decoy amount paid to the attacker on trigger")

	depositCmd := &cobra.Command{
		Use:   "deposit <amount>",
		Short: "Move funds from the liquid balance into the vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount: %s", args[0])
			}
			client := newClient()
			result, err := client.post("/v1/panic/deposit", map[string]any{
				"amount": amount,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	triggerCmd := &cobra.Command{
		Use:   "trigger",
		Short: "Trigger the panic response",
		RunE: func(cmd *cobra.Command, args []string) error {
			pin, err := readPIN(cmd)
			if err != nil {
				printError(err.Error())
				return nil
			}
			attacker, _ := cmd.Flags().GetString("attacker")
			if attacker == "" {
				printError("--attacker is required")
				return nil
			}
			if cfg.Identity == "" {
				printError("no identity in config; run register (or login) first")
				return nil
			}

			client := newClient()

			// Alert addresses are derived client-side from the configured
			// contacts, in contact order.
			status, err := client.get("/v1/panic/status")
			if err != nil {
				printError(err.Error())
				return nil
			}
			owner := models.Address(cfg.Identity)
			var alertAccounts []string
			if contacts, ok := status["contacts"].([]any); ok {
				for _, c := range contacts {
					contact := models.Address(fmt.Sprintf("%v", c))
					alertAccounts = append(alertAccounts, string(models.Derive(models.KindAlert, owner, contact)))
				}
			}

			result, err := client.post("/v1/panic/trigger", map[string]any{
				"proof":          base64.StdEncoding.EncodeToString([]byte(pin)),
				"attacker":       attacker,
				"alert_accounts": alertAccounts,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	triggerCmd.Flags().String("pin", "", "Duress PIN (prompted if omitted)")
	triggerCmd.Flags().String("attacker", "", "Address coercing the trigger")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the caller's panic config and vault state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/panic/status")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(configCmd, depositCmd, triggerCmd, statusCmd)
	return cmd
}

// --- recovery ---

func recoveryCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "recovery", Short: "Recovery protocol commands"}

	initiateCmd := &cobra.Command{
		Use:   "initiate",
		Short: "Open a recovery cycle after the time-lock expires",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/panic/recovery/initiate", nil)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	approveCmd := &cobra.Command{
		Use:   "approve <owner>",
		Short: "Approve another owner's recovery (caller must be a contact)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/panic/recovery/approve", map[string]any{
				"owner": args[0],
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	claimCmd := &cobra.Command{
		Use:   "claim",
		Short: "Claim the vault balance once quorum is reached",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/panic/claim", nil)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(initiateCmd, approveCmd, claimCmd)
	return cmd
}

// --- flags ---

func flagsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "flags", Short: "Forensic flag lookups"}

	attackerCmd := &cobra.Command{
		Use:   "attacker <address>",
		Short: "List reports against an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/flags/attacker/" + args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	compromisedCmd := &cobra.Command{
		Use:   "compromised <address>",
		Short: "Check whether an address is flagged compromised",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/flags/compromised/" + args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(attackerCmd, compromisedCmd)
	return cmd
}
