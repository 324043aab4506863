package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/validate"
)

// previewDoctor owns every rule and appointment loaded from preview files.
var previewDoctor = uuid.MustParse("00000000-0000-0000-0000-00000000d0c7")

type previewOptions struct {
	RulesFile        string
	AppointmentsFile string
	From             string
	To               string
	Now              string
	TZ               string
	All              bool
}

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Work with availability rules offline",
	}

	var opts previewOptions
	previewCmd := &cobra.Command{
		Use:   "preview",
		Short: "Expand a rules file into slots without a database",
		Example: "  clinic-server slots preview --rules rules.json --from 2025-03-03 --to 2025-03-09 --tz America/Bogota\n" +
			"  clinic-server slots preview --rules rules.json --appointments booked.json --from 2025-03-03 --to 2025-03-03",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(cmd.OutOrStdout(), opts)
		},
	}
	f := previewCmd.Flags()
	f.StringVar(&opts.RulesFile, "rules", "", "JSON array of availability rules")
	f.StringVar(&opts.AppointmentsFile, "appointments", "", "JSON array of existing appointments")
	f.StringVar(&opts.From, "from", "", "First date, YYYY-MM-DD")
	f.StringVar(&opts.To, "to", "", "Last date, YYYY-MM-DD (defaults to --from)")
	f.StringVar(&opts.Now, "now", "", "Evaluate as of this RFC 3339 instant (defaults to the current time)")
	f.StringVar(&opts.TZ, "tz", "UTC", "Clinic time zone")
	f.BoolVar(&opts.All, "all", false, "Include slots that collide with appointments")
	_ = previewCmd.MarkFlagRequired("rules")
	_ = previewCmd.MarkFlagRequired("from")
	cmd.AddCommand(previewCmd)

	return cmd
}

func runPreview(w io.Writer, opts previewOptions) error {
	loc, err := time.LoadLocation(opts.TZ)
	if err != nil {
		return fmt.Errorf("--tz: %w", err)
	}
	from, err := scheduling.ParseDate(opts.From)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	to := from
	if opts.To != "" {
		if to, err = scheduling.ParseDate(opts.To); err != nil {
			return fmt.Errorf("--to: %w", err)
		}
	}
	if to.Before(from) {
		return fmt.Errorf("--to %s is before --from %s", opts.To, opts.From)
	}
	now := time.Now()
	if opts.Now != "" {
		if now, err = time.Parse(time.RFC3339, opts.Now); err != nil {
			return fmt.Errorf("--now: %w", err)
		}
	}

	rules, err := loadRules(opts.RulesFile)
	if err != nil {
		return err
	}
	var appts []scheduling.Appointment
	if opts.AppointmentsFile != "" {
		if appts, err = loadAppointments(opts.AppointmentsFile); err != nil {
			return err
		}
	}

	gen := scheduling.GenerateSlots(rules, appts, scheduling.SlotQuery{
		DoctorID: previewDoctor,
		From:     from,
		To:       to,
		Now:      now,
		Location: loc,
	})
	slots := gen.Slots
	if !opts.All {
		slots = scheduling.FreeSlots(slots, appts)
	}
	if slots == nil {
		slots = []scheduling.Slot{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(scheduling.SlotsResponse{
		DoctorID:  previewDoctor,
		From:      from.Format("2006-01-02"),
		To:        to.Format("2006-01-02"),
		Slots:     slots,
		Conflicts: gen.Conflicts,
	})
}

func decodeFile(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// loadRules reads rules in the same shape the API accepts and applies the same checks.
func loadRules(path string) ([]scheduling.AvailabilityRule, error) {
	var reqs []scheduling.RuleRequest
	if err := decodeFile(path, &reqs); err != nil {
		return nil, err
	}
	v := validate.New()
	rules := make([]scheduling.AvailabilityRule, 0, len(reqs))
	for i, req := range reqs {
		if err := v.Validate(req); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rule, err := req.ToRule(previewDoctor)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rule.ID = uuid.New()
		rule.ApplyDefaults()
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, *rule)
	}
	return rules, nil
}

// loadAppointments reads booked appointments. Missing ids are generated and a
// missing status counts as pending, which holds its slot.
func loadAppointments(path string) ([]scheduling.Appointment, error) {
	var appts []scheduling.Appointment
	if err := decodeFile(path, &appts); err != nil {
		return nil, err
	}
	for i := range appts {
		a := &appts[i]
		a.DoctorID = previewDoctor
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		if a.Status == "" {
			a.Status = scheduling.StatusPending
		}
		if !a.Status.Valid() {
			return nil, fmt.Errorf("appointment %d: unknown status %q", i, a.Status)
		}
		if a.DurationMinutes <= 0 {
			return nil, fmt.Errorf("appointment %d: duration_minutes must be positive", i)
		}
	}
	return appts, nil
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}
