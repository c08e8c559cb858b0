package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/studyboard/studyboard/core"
	"github.com/studyboard/studyboard/core/curriculum"
)

func (cli *commandLine) promoteCmd() *cobra.Command {
	var (
		req       curriculum.PromoteRequest
		noCleanup bool
	)
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Promote one staging subject to production",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if noCleanup {
				keep := false
				req.CleanupUnreferencedRemovedTopics = &keep
			}
			svc, err := cli.curriculum(cmd.Context())
			if err != nil {
				return err
			}

			res, err := svc.Promote(cmd.Context(), req)
			if err != nil {
				var (
					vErrs validator.ValidationErrors
					vErr  *core.ValidationError
				)
				if errors.As(err, &vErrs) {
					return errors.New(formatFieldErrors(core.TranslateValidationErrors(vErrs)))
				}
				if errors.As(err, &vErr) && len(vErr.Fields) > 0 {
					fields := make(map[string]string, len(vErr.Fields))
					for _, f := range vErr.Fields {
						fields[f.Field] = f.Error
					}
					return errors.New(formatFieldErrors(fields))
				}
				if res.RunID != "" {
					return errors.Wrapf(err, "run %s", res.RunID)
				}
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&req.ExamBoardCode, "board", "", "exam board code, e.g. AQA")
	cmd.Flags().StringVar(&req.QualificationCode, "qualification", "", "qualification code, e.g. GCSE")
	cmd.Flags().StringVar(&req.SubjectCode, "subject", "", "subject code, e.g. 9PE1")
	cmd.Flags().StringVar(&req.RequestedBy, "requested-by", "", "operator email recorded on the run")
	cmd.Flags().BoolVar(&noCleanup, "no-cleanup", false, "keep production topics removed from staging")
	return cmd
}

func formatFieldErrors(fields map[string]string) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ": " + fields[name]
	}
	return strings.Join(parts, "; ")
}

func (cli *commandLine) runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List the latest promotion runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := cli.curriculum(cmd.Context())
			if err != nil {
				return err
			}
			runs, err := svc.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tSTATUS\tSUBJECT\tSTARTED\tFINISHED\tREQUESTED BY")
			for _, r := range runs {
				finished := "-"
				if r.FinishedAt != nil {
					finished = r.FinishedAt.Format(time.RFC3339)
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s %s %s\t%s\t%s\t%s\n",
					r.ID, r.Status, r.ExamBoard, r.QualificationLevel, r.SubjectCode,
					r.StartedAt.Format(time.RFC3339), finished, r.RequestedBy,
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}
