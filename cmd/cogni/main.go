package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cogniledger/internal/app"
	"cogniledger/internal/config"
	"cogniledger/internal/db"
	"cogniledger/internal/domain"
	"cogniledger/internal/engine"
	"cogniledger/internal/migrate"
	"cogniledger/internal/repo"
	"cogniledger/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cogni",
	Short: "Cogniledger CLI",
	Long: `Cogniledger is an append-only epoch ledger for contribution payouts.
Core concepts:
- Workspace: your .cogni directory holding only the database; configs are stored in the DB and imported explicitly.
- Scope: one contribution program that owns epochs, receipts and roles.
- Epoch: a bounded payout round; open it, collect receipts, fund the pool, close it.
- Receipt: an attributed unit of work (user, work item, role, units) submitted by an authorized issuer.
- Curation: approver decisions that include/exclude receipts or rescale their units.
- Pool: named revenue components that sum to the credits split at close.
- Statement: the immutable payout table issued at close; corrections append superseding statements.
- Event log: diary of everything that happened, view with 'cogni log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("COGNI")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "issuer identifier")
	rootCmd.PersistentFlags().String("scope", "", "scope id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("scope", rootCmd.PersistentFlags().Lookup("scope"))
}

func registerCommands() {
	rootCmd.AddCommand(scopeCmd())
	rootCmd.AddCommand(epochCmd())
	rootCmd.AddCommand(receiptCmd())
	rootCmd.AddCommand(curationCmd())
	rootCmd.AddCommand(allocationCmd())
	rootCmd.AddCommand(poolCmd())
	rootCmd.AddCommand(statementCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func scopeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scope",
		Short: "Scope management",
	}
	cmd.AddCommand(scopeCreateCmd())
	cmd.AddCommand(scopeListCmd())
	cmd.AddCommand(scopeShowCmd())
	cmd.AddCommand(scopeConfigCmd())
	return cmd
}

func scopeCreateCmd() *cobra.Command {
	var desc string
	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, config.Default(args[0]))
			s, err := e.InitScope(cmd.Context(), args[0], desc, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(s)
		},
	}
	cmd.Flags().StringVar(&desc, "description", "", "scope description")
	return cmd
}

func scopeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scopes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListScopes(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func scopeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show active scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Repo.GetScope(ctx, e.Config.Scope.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func scopeConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Scope configuration",
	}
	cmd.AddCommand(scopeConfigShowCmd())
	cmd.AddCommand(scopeConfigImportCmd())
	cmd.AddCommand(scopeConfigInitCmd())
	return cmd
}

func scopeConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show stored scope config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cfg, err := e.Repo.GetScopeConfig(ctx, e.Config.Scope.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
}

func scopeConfigImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import scope config from YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				scopeID := viper.GetString("scope")
				if scopeID == "" {
					scopeID = cfg.Scope.ID
				}
				if err := r.UpsertScopeConfig(ctx, scopeID, cfg); err != nil {
					return err
				}
				fmt.Printf("config imported for scope %s\n", scopeID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to config YAML")
	return cmd
}

func scopeConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <scope-id>",
		Short: "Print a default config template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(config.GenerateDefault(args[0]))
			return nil
		},
	}
}

func epochCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "epoch",
		Short: "Epoch lifecycle",
	}
	cmd.AddCommand(epochOpenCmd())
	cmd.AddCommand(epochListCmd())
	cmd.AddCommand(epochShowCmd())
	cmd.AddCommand(epochCloseCmd())
	return cmd
}

func epochOpenCmd() *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open a payout epoch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ep, err := e.OpenEpoch(ctx, engine.OpenEpochOptions{
					ScopeID:     e.Config.Scope.ID,
					PeriodStart: start,
					PeriodEnd:   end,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(ep)
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "period start (RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "period end (RFC3339)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func epochListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List epochs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListEpochs(ctx, e.Config.Scope.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Period Start", "Period End", "Pool Total"})
				for _, ep := range items {
					pool := ""
					if ep.PoolTotalCredits != nil {
						pool = *ep.PoolTotalCredits
					}
					tw.AppendRow(table.Row{ep.ID, ep.Status, ep.PeriodStart, ep.PeriodEnd, pool})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func epochShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <epoch-id>",
		Short: "Show epoch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEpochID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ep, err := e.Repo.GetEpoch(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(ep)
			})
		},
	}
}

func epochCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <epoch-id>",
		Short: "Close epoch and issue payout statement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEpochID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.CloseEpoch(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					var closed *domain.EpochAlreadyClosedError
					if errors.As(err, &closed) {
						// re-running close on a finished epoch is fine; show the head statement
						head, headErr := e.Repo.LatestStatementForEpoch(ctx, id)
						if headErr != nil {
							return err
						}
						fmt.Printf("epoch %d already closed; latest statement %s\n", id, head.ID)
						return printStatement(head)
					}
					return err
				}
				return printStatement(st)
			})
		},
	}
}

func receiptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipt",
		Short: "Activity receipts",
	}
	cmd.AddCommand(receiptSubmitCmd())
	cmd.AddCommand(receiptListCmd())
	cmd.AddCommand(receiptMessageCmd())
	cmd.AddCommand(receiptSignCmd())
	return cmd
}

func receiptSubmitCmd() *cobra.Command {
	var opts engine.SubmitReceiptOptions
	var epochArg string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an activity receipt",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEpochID(epochArg)
			if err != nil {
				return err
			}
			opts.EpochID = id
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ev, err := e.SubmitReceipt(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(ev)
			})
		},
	}
	cmd.Flags().StringVar(&epochArg, "epoch", "", "epoch id")
	cmd.Flags().StringVar(&opts.UserID, "user", "", "credited user id")
	cmd.Flags().StringVar(&opts.WorkItemID, "work-item", "", "work item id")
	cmd.Flags().StringVar(&opts.Role, "role", "author", "issuer role (author|reviewer|approver)")
	cmd.Flags().StringVar(&opts.Units, "units", "", "valuation units (decimal integer)")
	cmd.Flags().StringVar(&opts.ArtifactRef, "artifact", "", "artifact reference")
	cmd.Flags().StringVar(&opts.RationaleRef, "rationale", "", "rationale reference")
	cmd.Flags().StringVar(&opts.OccurredAt, "occurred-at", "", "occurrence time (RFC3339)")
	_ = cmd.MarkFlagRequired("epoch")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("work-item")
	_ = cmd.MarkFlagRequired("units")
	return cmd
}

func receiptListCmd() *cobra.Command {
	var epochArg string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List receipts for an epoch",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEpochID(epochArg)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListActivityForEpoch(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "User", "Work Item", "Role", "Units"})
				for _, ev := range items {
					tw.AppendRow(table.Row{ev.ID, ev.UserID, ev.WorkItemID, ev.Role, ev.Units})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&epochArg, "epoch", "", "epoch id")
	_ = cmd.MarkFlagRequired("epoch")
	return cmd
}

func receiptMessageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "message <receipt-id>",
		Short: "Print the canonical signing message for a receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				msg, hash, err := e.ReceiptMessage(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"message": msg, "message_hash": hash})
				}
				fmt.Println(msg)
				fmt.Println("hash:", hash)
				return nil
			})
		},
	}
}

func receiptSignCmd() *cobra.Command {
	var signer, signature string
	cmd := &cobra.Command{
		Use:   "sign <receipt-id>",
		Short: "Record an externally produced receipt signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sig, err := e.RecordSignature(ctx, engine.RecordSignatureOptions{
					ActivityEventID: args[0],
					SignerAddress:   signer,
					Signature:       signature,
					ActorID:         viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(sig)
			})
		},
	}
	cmd.Flags().StringVar(&signer, "signer", "", "signer address")
	cmd.Flags().StringVar(&signature, "signature", "", "signature bytes (hex)")
	_ = cmd.MarkFlagRequired("signer")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}

func curationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "curation",
		Short: "Curation decisions",
	}
	cmd.AddCommand(curationSetCmd())
	cmd.AddCommand(curationListCmd())
	return cmd
}

func curationSetCmd() *cobra.Command {
	var epochArg, receiptID, note string
	var exclude bool
	var weightMilli int64
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set curation decision for a receipt",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEpochID(epochArg)
			if err != nil {
				return err
			}
			opts := engine.SetCurationOptions{
				EpochID:         id,
				ActivityEventID: receiptID,
				Included:        !exclude,
				Note:            note,
				ActorID:         viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("weight-milli") {
				opts.WeightOverrideMilli = &weightMilli
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.SetCuration(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&epochArg, "epoch", "", "epoch id")
	cmd.Flags().StringVar(&receiptID, "receipt", "", "receipt id")
	cmd.Flags().BoolVar(&exclude, "exclude", false, "exclude the receipt from the allocation")
	cmd.Flags().Int64Var(&weightMilli, "weight-milli", 1000, "weight override in milli-units")
	cmd.Flags().StringVar(&note, "note", "", "curation note")
	_ = cmd.MarkFlagRequired("epoch")
	_ = cmd.MarkFlagRequired("receipt")
	return cmd
}

func curationListCmd() *cobra.Command {
	var epochArg string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List curation decisions for an epoch",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEpochID(epochArg)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.GetCurationForEpoch(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&epochArg, "epoch", "", "epoch id")
	_ = cmd.MarkFlagRequired("epoch")
	return cmd
}

func allocationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allocation",
		Short: "Per-user allocations",
	}
	cmd.AddCommand(allocationListCmd())
	cmd.AddCommand(allocationOverrideCmd())
	return cmd
}

func allocationListCmd() *cobra.Command {
	var epochArg string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List allocations for an epoch",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEpochID(epochArg)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAllocationsForEpoch(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"User", "Proposed", "Final", "Receipts"})
				for _, a := range items {
					final := ""
					if a.FinalUnits != nil {
						final = *a.FinalUnits
					}
					tw.AppendRow(table.Row{a.UserID, a.ProposedUnits, final, a.ActivityCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&epochArg, "epoch", "", "epoch id")
	_ = cmd.MarkFlagRequired("epoch")
	return cmd
}

func allocationOverrideCmd() *cobra.Command {
	var epochArg, user, units, reason string
	cmd := &cobra.Command{
		Use:   "override",
		Short: "Pin a user's final units for an epoch",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEpochID(epochArg)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.OverrideAllocation(ctx, id, user, units, reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&epochArg, "epoch", "", "epoch id")
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&units, "units", "", "final units (decimal integer)")
	cmd.Flags().StringVar(&reason, "reason", "", "override reason")
	_ = cmd.MarkFlagRequired("epoch")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("units")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func poolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Epoch pool components",
	}
	cmd.AddCommand(poolAddCmd())
	cmd.AddCommand(poolListCmd())
	return cmd
}

func poolAddCmd() *cobra.Command {
	var epochArg, component, amount string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a pool component",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEpochID(epochArg)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddPoolComponent(ctx, id, component, amount, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&epochArg, "epoch", "", "epoch id")
	cmd.Flags().StringVar(&component, "component", "", "component id")
	cmd.Flags().StringVar(&amount, "amount", "", "amount in credits (decimal integer)")
	_ = cmd.MarkFlagRequired("epoch")
	_ = cmd.MarkFlagRequired("component")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func poolListCmd() *cobra.Command {
	var epochArg string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pool components",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEpochID(epochArg)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListPoolComponents(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&epochArg, "epoch", "", "epoch id")
	_ = cmd.MarkFlagRequired("epoch")
	return cmd
}

func statementCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "statement",
		Short: "Payout statements",
	}
	cmd.AddCommand(statementShowCmd())
	cmd.AddCommand(statementListCmd())
	cmd.AddCommand(statementVerifyCmd())
	cmd.AddCommand(statementSupersedeCmd())
	return cmd
}

func statementShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <statement-id>",
		Short: "Show a payout statement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.Repo.GetStatement(ctx, args[0])
				if err != nil {
					return err
				}
				return printStatement(st)
			})
		},
	}
}

func statementListCmd() *cobra.Command {
	var epochArg string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List statements for an epoch",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEpochID(epochArg)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListStatementsForEpoch(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&epochArg, "epoch", "", "epoch id")
	_ = cmd.MarkFlagRequired("epoch")
	return cmd
}

func statementVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <statement-id>",
		Short: "Recompute a statement's hash and conservation check",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.VerifyStatement(ctx, args[0])
				if err != nil {
					return err
				}
				if err := printJSONOrTable(v); err != nil {
					return err
				}
				if !v.HashMatches || !v.Conserved {
					return fmt.Errorf("statement %s failed verification", v.StatementID)
				}
				return nil
			})
		},
	}
}

func statementSupersedeCmd() *cobra.Command {
	var epochArg, reason string
	cmd := &cobra.Command{
		Use:   "supersede",
		Short: "Issue a superseding statement for a closed epoch",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEpochID(epochArg)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.SupersedeStatement(ctx, id, reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printStatement(st)
			})
		},
	}
	cmd.Flags().StringVar(&epochArg, "epoch", "", "epoch id")
	cmd.Flags().StringVar(&reason, "reason", "", "correction reason")
	_ = cmd.MarkFlagRequired("epoch")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func roleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Issuer role grants",
	}
	cmd.AddCommand(roleGrantCmd())
	cmd.AddCommand(roleRevokeCmd())
	cmd.AddCommand(roleListCmd())
	return cmd
}

func roleGrantCmd() *cobra.Command {
	var address, role string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a role to an issuer address",
		RunE: func(cmd *cobra.Command, args []string) error {
			if address == "" || role == "" {
				return fmt.Errorf("--address and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ir, err := e.GrantRole(ctx, e.Config.Scope.ID, address, role, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(ir)
			})
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "issuer address")
	cmd.Flags().StringVar(&role, "role", "", "role (author|reviewer|approver)")
	return cmd
}

func roleRevokeCmd() *cobra.Command {
	var address, role string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a role from an issuer address",
		RunE: func(cmd *cobra.Command, args []string) error {
			if address == "" || role == "" {
				return fmt.Errorf("--address and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RevokeRole(ctx, e.Config.Scope.ID, address, role, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "issuer address")
	cmd.Flags().StringVar(&role, "role", "", "role (author|reviewer|approver)")
	return cmd
}

func roleListCmd() *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List role grants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListRoles(ctx, e.Config.Scope.ID, address)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "filter by address")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "API keys for the HTTP server",
	}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var address, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for an issuer address",
		RunE: func(cmd *cobra.Command, args []string) error {
			if address == "" {
				return fmt.Errorf("--address required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					Address: address,
					Name:    name,
					KeyHash: repo.HashAPIKey(raw),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				// the raw key is only printed once
				fmt.Printf("api key created for %s\nX-Api-Key: %s\n", address, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "issuer address")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, address)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "filter by address")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: epochs, receipts, curations, statements, and more.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Scope.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveScopeAndConfig(cmd.Context(), workspace, viper.GetString("scope"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("COGNI_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("COGNI_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Cogniledger API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func parseEpochID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid epoch id %q", s)
	}
	return id, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveScopeAndConfig(ctx, workspace, viper.GetString("scope"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func printStatement(st domain.PayoutStatement) error {
	if viper.GetBool("json") {
		return printJSON(st)
	}
	fmt.Printf("statement %s (epoch %d)\n", st.ID, st.EpochID)
	fmt.Printf("pool: %s credits, hash: %s\n", st.PoolTotalCredits, st.AllocationSetHash)
	if st.SupersedesStatementID != nil {
		fmt.Printf("supersedes: %s\n", *st.SupersedesStatementID)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"User", "Units", "Share", "Credits"})
	for _, p := range st.Payouts {
		tw.AppendRow(table.Row{p.UserID, p.TotalUnits, p.Share, p.AmountCredits})
	}
	tw.Render()
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
