package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/notepid/twilight_pm/internal/user"
)

var (
	memberPassword string
	memberRealName string
	memberEmail    string
	memberLanguage string

	memberPrimary    int
	memberAdditional []int

	memberNotify      int
	memberReceiveFrom int
)

var memberCmd = &cobra.Command{
	Use:   "member",
	Short: "Manage member accounts",
}

var memberAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Create a member",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := application.Members.Create(args[0], memberPassword, memberRealName, memberEmail)
		if err != nil {
			return err
		}
		if memberLanguage != "" {
			if err := application.Members.SetEmail(m.ID, m.Email, memberLanguage); err != nil {
				return err
			}
		}
		fmt.Printf("Member %s created with id %d.\n", m.Name, m.ID)
		return nil
	},
}

// lookupMember resolves the NAME argument of member subcommands.
func lookupMember(name string) (*user.Member, error) {
	m, err := application.Members.GetByName(name)
	if err != nil {
		return nil, fmt.Errorf("member %s: %w", name, err)
	}
	return m, nil
}

var memberGroupsCmd = &cobra.Command{
	Use:   "groups NAME",
	Short: "Set the primary and additional membergroups",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := lookupMember(args[0])
		if err != nil {
			return err
		}
		primary := m.PrimaryGroup
		if cmd.Flags().Changed("primary") {
			primary = memberPrimary
		}
		additional := m.AdditionalGroups
		if cmd.Flags().Changed("additional") {
			additional = memberAdditional
		}
		return application.Members.SetGroups(m.ID, primary, additional)
	},
}

var memberPrefsCmd = &cobra.Command{
	Use:   "prefs NAME",
	Short: "Set notification and receive-from preferences",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := lookupMember(args[0])
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("notify") {
			if err := application.Members.SetNotify(m.ID, memberNotify); err != nil {
				return err
			}
		}
		if cmd.Flags().Changed("receive-from") {
			if err := application.Members.SetReceiveFrom(m.ID, memberReceiveFrom); err != nil {
				return err
			}
		}
		return nil
	},
}

func memberListCmd(use, short string, set func(id int, ids []int) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " NAME [MEMBER...]",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := lookupMember(args[0])
			if err != nil {
				return err
			}
			resolved, err := application.Members.ResolveNames(args[1:])
			if err != nil {
				return err
			}
			ids := make([]int, 0, len(args)-1)
			for _, name := range args[1:] {
				id, ok := resolved[name]
				if !ok {
					return fmt.Errorf("member %q not found", name)
				}
				ids = append(ids, id)
			}
			return set(m.ID, ids)
		},
	}
}

func init() {
	memberAddCmd.Flags().StringVar(&memberPassword, "password", "", "Password")
	memberAddCmd.Flags().StringVar(&memberRealName, "real-name", "", "Display name")
	memberAddCmd.Flags().StringVar(&memberEmail, "email", "", "Notification address")
	memberAddCmd.Flags().StringVar(&memberLanguage, "language", "", "Notification language")
	_ = memberAddCmd.MarkFlagRequired("password")

	memberGroupsCmd.Flags().IntVar(&memberPrimary, "primary", 0, "Primary group id")
	memberGroupsCmd.Flags().IntSliceVar(&memberAdditional, "additional", nil, "Additional group ids")

	memberPrefsCmd.Flags().IntVar(&memberNotify, "notify", 1, "Email notifications: 0 never, 1 always, 2 buddies only")
	memberPrefsCmd.Flags().IntVar(&memberReceiveFrom, "receive-from", 0, "0 everyone, 1 not ignored, 2 buddies, 3 admins")

	memberCmd.AddCommand(
		memberAddCmd,
		memberGroupsCmd,
		memberPrefsCmd,
		memberListCmd("buddies", "Replace the buddy list", func(id int, ids []int) error {
			return application.Members.SetBuddies(id, ids)
		}),
		memberListCmd("ignore", "Replace the ignore list", func(id int, ids []int) error {
			return application.Members.SetIgnoreList(id, ids)
		}),
	)
	rootCmd.AddCommand(memberCmd)
}
