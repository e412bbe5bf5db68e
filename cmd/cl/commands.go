package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"coachline/internal/app"
	"coachline/internal/config"
	"coachline/internal/domain"
	"coachline/internal/engine"
)

func contentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "content", Short: "Quiz, stage and SOP catalog"}
	var force bool
	initC := &cobra.Command{
		Use:   "init",
		Short: "Write the starter coachline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.WriteDefaultContent(viper.GetString("workspace"), force)
			if err != nil {
				return err
			}
			fmt.Println("Wrote", path)
			return nil
		},
	}
	initC.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	var file string
	importC := &cobra.Command{
		Use:   "import",
		Short: "Import a content catalog into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
			}
			c, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sum, err := e.ImportContent(ctx, c, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(sum)
			})
		},
	}
	importC.Flags().StringVar(&file, "file", "", "path to YAML content (default: workspace coachline.yml)")

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate the workspace content file",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, fromFile, err := app.LoadContent(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if !fromFile {
				fmt.Println("No coachline.yml; the built-in catalog would be used")
				return nil
			}
			fmt.Printf("OK: %d quiz(zes), %d stage(s), %d SOP(s)\n", len(c.Quizzes), len(c.Stages), len(c.SOPs))
			return nil
		},
	}
	cmd.AddCommand(initC, importC, validate)
	return cmd
}

func coachCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "coach", Short: "Manage coaches"}
	var name string
	add := &cobra.Command{
		Use:   "add <coach-id>",
		Short: "Register a coach",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.RegisterCoach(ctx, args[0], name, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name")
	cmd.AddCommand(add)
	return cmd
}

func customerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "customer", Short: "Manage customers"}
	var coachID, name string
	add := &cobra.Command{
		Use:   "add <customer-id>",
		Short: "Register a customer under a coach",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.RegisterCustomer(ctx, args[0], coachID, name, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	add.Flags().StringVar(&coachID, "coach", "", "owning coach id")
	add.Flags().StringVar(&name, "name", "", "display name")
	_ = add.MarkFlagRequired("coach")

	var listCoach string
	list := &cobra.Command{
		Use:   "list",
		Short: "List a coach's customers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListCustomersByCoach(ctx, listCoach)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Stage", "Created")
				for _, c := range items {
					st := c.CoachStage
					if st == "" {
						st = "-"
					}
					tw.AppendRow(table.Row{c.ID, c.Name, st, c.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listCoach, "coach", "", "coach id")
	_ = list.MarkFlagRequired("coach")
	cmd.AddCommand(add, list)
	return cmd
}

func inviteCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "invite", Short: "Manage assessment invites"}

	var coachID, customerID, version, track string
	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue an invite; the token is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				iss, err := e.IssueInvite(ctx, engine.IssueInviteOptions{
					CoachID:    coachID,
					CustomerID: customerID,
					Quiz:       domain.QuizVersion{Version: version, Track: track},
					TTL:        ttl,
					ActorID:    actorID(),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(iss)
				}
				fmt.Printf("Invite %s for %s (%s/%s)\n", iss.Invite.ID, iss.Invite.CustomerID, version, track)
				if iss.Invite.ExpiresAt != nil {
					fmt.Printf("Expires: %s\n", *iss.Invite.ExpiresAt)
				}
				fmt.Printf("Token (shown once): %s\n", iss.Token)
				return nil
			})
		},
	}
	issue.Flags().StringVar(&coachID, "coach", "", "issuing coach id")
	issue.Flags().StringVar(&customerID, "customer", "", "customer id")
	issue.Flags().StringVar(&version, "quiz-version", "v1", "quiz version")
	issue.Flags().StringVar(&track, "track", "fast", "quiz track")
	issue.Flags().DurationVar(&ttl, "ttl", 7*24*time.Hour, "time to live, 0 for no expiry")
	_ = issue.MarkFlagRequired("coach")
	_ = issue.MarkFlagRequired("customer")

	var listCustomer string
	list := &cobra.Command{
		Use:   "list",
		Short: "List a customer's invites",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListInvitesByCustomer(ctx, listCustomer)
				if err != nil {
					return err
				}
				return printInvites(items)
			})
		},
	}
	list.Flags().StringVar(&listCustomer, "customer", "", "customer id")
	_ = list.MarkFlagRequired("customer")

	expire := &cobra.Command{
		Use:   "expire <invite-id>",
		Short: "Expire an open invite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				inv, err := e.ExpireInvite(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printInvites([]domain.Invite{inv})
			})
		},
	}

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Mark open invites past their expiry as expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.ExpireStaleInvites(ctx, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]int{"expired": n})
				}
				fmt.Printf("Expired %d invite(s)\n", n)
				return nil
			})
		},
	}
	cmd.AddCommand(issue, list, expire, sweep)
	return cmd
}

func attemptCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "attempt", Short: "Work with quiz attempts"}

	start := &cobra.Command{
		Use:   "start <token>",
		Short: "Start or resume the attempt behind an invite token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.StartAttempt(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}

	var pairs []string
	answer := &cobra.Command{
		Use:   "answer <token> <attempt-id>",
		Short: "Record answers as question=option pairs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			answers := make(map[string]string, len(pairs))
			for _, p := range pairs {
				q, o, ok := strings.Cut(p, "=")
				if !ok {
					return fmt.Errorf("answer %q must be question=option", p)
				}
				answers[strings.TrimSpace(q)] = strings.TrimSpace(o)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RecordAnswers(ctx, args[0], args[1], answers)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	answer.Flags().StringArrayVar(&pairs, "answer", nil, "question=option (repeatable)")

	var tagList []string
	var stageID, summary string
	submit := &cobra.Command{
		Use:   "submit <attempt-id>",
		Short: "Seal an attempt with scoring output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sub := engine.Submission{Tags: tagList, Stage: stageID}
			if summary != "" {
				sub.Summary = json.RawMessage(summary)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.SubmitAttempt(ctx, args[0], sub, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	submit.Flags().StringSliceVar(&tagList, "tag", nil, "system tag (repeatable)")
	submit.Flags().StringVar(&stageID, "stage", "", "scored stage")
	submit.Flags().StringVar(&summary, "summary", "", "summary JSON")

	show := &cobra.Command{
		Use:   "show <token>",
		Short: "Show an invite and its latest attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.ViewResult(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.AddCommand(start, answer, submit, show)
	return cmd
}

func stageCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "stage", Short: "Customer coaching stage"}
	get := &cobra.Command{
		Use:   "get <customer-id>",
		Short: "Show the current stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.CurrentStage(ctx, args[0])
				if err != nil {
					return err
				}
				return printStage(st)
			})
		},
	}
	set := &cobra.Command{
		Use:   "set <customer-id> <pre|mid|post>",
		Short: "Set the stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.SetStage(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printStage(st)
			})
		},
	}
	advance := &cobra.Command{
		Use:   "advance <customer-id>",
		Short: "Move the stage one step forward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.AdvanceStage(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printStage(st)
			})
		},
	}
	cmd.AddCommand(get, set, advance)
	return cmd
}

func printStage(st engine.StageState) error {
	if viper.GetBool("json") {
		return printJSON(st)
	}
	at := st.UpdatedAt
	if at == "" {
		at = "never set"
	}
	fmt.Printf("%s: %s (updated %s, version %d)\n", st.CustomerID, st.Stage, at, st.Version)
	return nil
}

func tagsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tags", Short: "Coach tags on customers"}
	add := &cobra.Command{
		Use:   "add <customer-id> <coach:tag>",
		Short: "Add a coach tag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ct, err := e.AddCoachTag(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(ct)
			})
		},
	}
	rm := &cobra.Command{
		Use:   "rm <customer-id> <coach:tag>",
		Short: "Remove a coach tag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveCoachTag(ctx, args[0], args[1], actorID())
			})
		},
	}
	ls := &cobra.Command{
		Use:   "ls <customer-id>",
		Short: "List coach tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				list, err := e.CoachTags(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(list)
				}
				for _, t := range list {
					fmt.Println(t)
				}
				return nil
			})
		},
	}
	cmd.AddCommand(add, rm, ls)
	return cmd
}

func sopCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "sop", Short: "SOP matching"}
	var tagList []string
	match := &cobra.Command{
		Use:   "match <stage>",
		Short: "Evaluate SOP rules for a stage and tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.MatchSOP(ctx, args[0], tagList)
				if err != nil {
					return err
				}
				if p == nil {
					if viper.GetBool("json") {
						return printJSON(map[string]any{"matched": false})
					}
					fmt.Println("No rule matched")
					return nil
				}
				return printJSONOrTable(p)
			})
		},
	}
	match.Flags().StringSliceVar(&tagList, "tag", nil, "tag (repeatable)")

	panel := &cobra.Command{
		Use:   "panel <stage>",
		Short: "Show the fallback panel for a stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.DefaultPanel(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.AddCommand(match, panel)
	return cmd
}

func recommendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recommend <customer-id>",
		Short: "Guidance for a customer's stage and tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.Recommend(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rec)
				}
				p := rec.Panel
				fmt.Printf("Customer %s, stage %s, tags %s\n", rec.CustomerID, rec.Stage, strings.Join(rec.Tags, ", "))
				fmt.Printf("Panel: %s (source %s)\n", p.Name, p.Source)
				tw := newTable("Kind", "Item")
				for _, s := range p.Strategies {
					tw.AppendRow(table.Row{"do", s})
				}
				for _, s := range p.Forbidden {
					tw.AppendRow(table.Row{"avoid", s})
				}
				tw.Render()
				return nil
			})
		},
	}
}
