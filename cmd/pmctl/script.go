package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	lua "github.com/yuin/gopher-lua"

	"github.com/notepid/twilight_pm/internal/scripting"
)

var scriptCmd = &cobra.Command{
	Use:   "script FILE [ARG...]",
	Short: "Run a Lua script against the mailbox",
	Long: `Run a Lua script with the members and pm modules loaded.
With --as the script starts logged in as that member. If the script returns
a table with a main function, it is called with the remaining arguments.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if _, err := os.Stat(path); err != nil && !filepath.IsAbs(path) {
			path = filepath.Join(application.Config.Paths.Scripts, path)
		}

		settings, err := application.DB.GetSiteSettings()
		if err != nil {
			return err
		}
		s := scripting.NewSession(application.Members, application.PM, settings.PermissionEnableDeny)
		defer s.Close()

		if asMember != "" {
			m, err := lookupMember(asMember)
			if err != nil {
				return err
			}
			s.SetMember(m)
		}

		if err := s.LoadScript(path); err != nil {
			return err
		}
		if !s.HasHook("main") {
			return nil
		}
		hookArgs := make([]lua.LValue, 0, len(args)-1)
		for _, a := range args[1:] {
			hookArgs = append(hookArgs, lua.LString(a))
		}
		if err := s.CallHook("main", hookArgs...); err != nil {
			return fmt.Errorf("script main: %w", err)
		}
		if s.HasHook("on_exit") {
			scripting.LogError("on_exit", s.CallHook("on_exit"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scriptCmd)
}
