package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	botcmd "github.com/jholhewres/replybot/pkg/replybot/commands"
	"github.com/jholhewres/replybot/pkg/replybot/config"
)

// newSetupCmd creates the `replybot setup` command.
func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard that writes config.yaml.
Asks for the bot name, admin phone numbers and the main policies.

Examples:
  replybot setup
  replybot setup --output ./configs/replybot.yaml`,
		Args: cobra.NoArgs,
		RunE: runSetup,
	}
	cmd.Flags().StringP("output", "o", "config.yaml", "where to write the config file")
	return cmd
}

// setupAnswers are the values collected by the wizard.
type setupAnswers struct {
	Name         string
	Admins       string
	LearnPolicy  string
	DenialPolicy string
	Locale       string
	IgnoreGroups bool
	NotifyAdmins bool
	Port         string
}

func runSetup(cmd *cobra.Command, _ []string) error {
	output, _ := cmd.Flags().GetString("output")

	if _, err := os.Stat(output); err == nil {
		overwrite := false
		err := huh.NewConfirm().
			Title(fmt.Sprintf("%s already exists. Overwrite it?", output)).
			Description("The current file is kept as " + output + ".bak").
			Value(&overwrite).
			Run()
		if err != nil {
			return err
		}
		if !overwrite {
			fmt.Fprintln(cmd.OutOrStdout(), "Setup cancelled.")
			return nil
		}
	}

	cfg := config.DefaultConfig()
	answers := setupAnswers{
		Name:         cfg.Name,
		LearnPolicy:  cfg.Access.LearnPolicy,
		DenialPolicy: cfg.Access.DenialPolicy,
		Locale:       cfg.Routing.Locale,
		IgnoreGroups: cfg.Routing.IgnoreGroups,
		Port:         strings.TrimPrefix(cfg.HTTP.Address, ":"),
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bot name").
				Value(&answers.Name),
			huh.NewInput().
				Title("Admin phone numbers").
				Description("Country code, no + or spaces. Separate several with commas.\nExample: 972501234567").
				Value(&answers.Admins).
				Validate(validateAdmins),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Who can teach replies (learn / list)?").
				Options(
					huh.NewOption("Admins only", "admin"),
					huh.NewOption("Everyone", "open"),
				).
				Value(&answers.LearnPolicy),
			huh.NewSelect[string]().
				Title("When a non-admin uses an admin command").
				Options(
					huh.NewOption("Reply that it is not allowed", string(botcmd.DenyReply)),
					huh.NewOption("Ignore silently", string(botcmd.DenySilent)),
				).
				Value(&answers.DenialPolicy),
			huh.NewSelect[string]().
				Title("Language of error replies").
				Options(
					huh.NewOption("Hebrew", string(botcmd.LocaleHebrew)),
					huh.NewOption("English", string(botcmd.LocaleEnglish)),
				).
				Value(&answers.Locale),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Ignore group chats?").
				Value(&answers.IgnoreGroups),
			huh.NewConfirm().
				Title("Message admins when the bot connects?").
				Value(&answers.NotifyAdmins),
			huh.NewInput().
				Title("Health server port").
				Value(&answers.Port).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("port is required")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	applySetup(cfg, answers)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid answers: %w", err)
	}
	if err := config.Save(cfg, output); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nConfig written to %s\nRun 'replybot serve' and scan the QR code to link WhatsApp.\n", output)
	return nil
}

// applySetup copies the wizard answers onto cfg.
func applySetup(cfg *config.Config, a setupAnswers) {
	if name := strings.TrimSpace(a.Name); name != "" {
		cfg.Name = name
	}
	cfg.Access.Admins = splitAdmins(a.Admins)
	cfg.Access.LearnPolicy = a.LearnPolicy
	cfg.Access.DenialPolicy = a.DenialPolicy
	cfg.Routing.Locale = a.Locale
	cfg.Routing.IgnoreGroups = a.IgnoreGroups
	cfg.Connection.NotifyAdmins = a.NotifyAdmins
	if port := strings.TrimSpace(a.Port); port != "" {
		cfg.HTTP.Address = ":" + strings.TrimPrefix(port, ":")
	}
}

func validateAdmins(s string) error {
	admins := splitAdmins(s)
	if len(admins) == 0 {
		return fmt.Errorf("at least one admin is required")
	}
	for _, a := range admins {
		if len(a) < 10 {
			return fmt.Errorf("%q seems too short, include the country code", a)
		}
	}
	return nil
}

// splitAdmins splits a comma or space separated list and normalizes each
// entry to digits.
func splitAdmins(s string) []string {
	var out []string
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == ';' }) {
		if id := normalizePhone(f); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// normalizePhone strips everything but digits.
func normalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
