package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/notepid/twilight_pm/internal/pm"
)

var (
	ruleName    string
	ruleFrom    []string
	ruleGroups  []int
	ruleSubject []string
	ruleBody    []string
	ruleBuddy   bool
	ruleOr      bool
	ruleLabels  []int
	ruleDelete  bool

	applyAll bool
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List message rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		rules, err := application.PM.LoadRules(a)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		if ok, err := printJSON(cmd, rules); ok {
			return err
		}
		if len(rules) == 0 {
			fmt.Println("No rules.")
			return nil
		}
		for _, r := range rules {
			crit := make([]string, len(r.Criteria))
			for i, c := range r.Criteria {
				crit[i] = c.String()
			}
			acts := make([]string, len(r.Actions))
			for i, act := range r.Actions {
				acts[i] = act.String()
			}
			fmt.Printf("  %4d  %-20s if %s then %s\n", r.ID, r.Name,
				strings.Join(crit, " "+r.Logic.String()+" "), strings.Join(acts, ", "))
		}
		return nil
	},
}

var rulesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a rule",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		r := pm.Rule{Name: ruleName, Logic: pm.LogicAnd}
		if ruleOr {
			r.Logic = pm.LogicOr
		}

		if len(ruleFrom) > 0 {
			ids, err := application.Members.ResolveNames(ruleFrom)
			if err != nil {
				return err
			}
			for _, name := range ruleFrom {
				id, ok := ids[name]
				if !ok {
					return fmt.Errorf("member %q not found", name)
				}
				r.Criteria = append(r.Criteria, pm.SenderIs(id))
			}
		}
		for _, g := range ruleGroups {
			r.Criteria = append(r.Criteria, pm.SenderInGroup(g))
		}
		for _, s := range ruleSubject {
			r.Criteria = append(r.Criteria, pm.SubjectContains(s))
		}
		for _, s := range ruleBody {
			r.Criteria = append(r.Criteria, pm.BodyContains(s))
		}
		if ruleBuddy {
			r.Criteria = append(r.Criteria, pm.SenderIsBuddy())
		}

		for _, l := range ruleLabels {
			r.Actions = append(r.Actions, pm.ApplyLabel(l))
		}
		if ruleDelete {
			r.Actions = append(r.Actions, pm.DeleteMessage())
		}

		id, err := application.PM.AddRule(a, r)
		if err != nil {
			return fmt.Errorf("add rule: %w", err)
		}
		fmt.Printf("Rule %d added.\n", id)
		return nil
	},
}

var rulesDeleteCmd = &cobra.Command{
	Use:   "delete ID...",
	Short: "Delete rules",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return application.PM.DeleteRules(a, ids)
	},
}

var applyRulesCmd = &cobra.Command{
	Use:   "apply-rules",
	Short: "Run the rules over the inbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		scope := pm.ScopeUnread
		if applyAll {
			scope = pm.ScopeAll
		}
		res, err := application.PM.ApplyRules(a, scope)
		if err != nil {
			return fmt.Errorf("apply rules: %w", err)
		}
		if ok, err := printJSON(cmd, res); ok {
			return err
		}
		fmt.Printf("Scanned %d, labelled %d, deleted %d.\n", res.Scanned, res.Labelled, res.Deleted)
		if res.Truncated > 0 {
			fmt.Printf("%d label set(s) hit the length limit.\n", res.Truncated)
		}
		return nil
	},
}

func init() {
	f := rulesAddCmd.Flags()
	f.StringVarP(&ruleName, "name", "n", "", "Rule name")
	f.StringSliceVar(&ruleFrom, "from", nil, "Sender member name")
	f.IntSliceVar(&ruleGroups, "group", nil, "Sender membergroup id")
	f.StringSliceVar(&ruleSubject, "subject", nil, "Text the subject contains")
	f.StringSliceVar(&ruleBody, "body", nil, "Text the body contains")
	f.BoolVar(&ruleBuddy, "buddy", false, "Sender is on my buddy list")
	f.BoolVar(&ruleOr, "or", false, "Match any criterion instead of all")
	f.IntSliceVar(&ruleLabels, "label", nil, "Label id to apply")
	f.BoolVar(&ruleDelete, "delete", false, "Delete matching messages")
	_ = rulesAddCmd.MarkFlagRequired("name")

	applyRulesCmd.Flags().BoolVar(&applyAll, "all", false, "Include messages already read")

	rulesCmd.AddCommand(rulesAddCmd, rulesDeleteCmd)
	rootCmd.AddCommand(rulesCmd, applyRulesCmd)
}
