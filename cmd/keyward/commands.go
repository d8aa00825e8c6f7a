// Copyright (c) 2026 Keyward Team
// Keyward - signing key custody and execution session manager
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/custody"
	"github.com/keyward/keyward/internal/i18n"
	"github.com/keyward/keyward/internal/security"
)

// syncCmd reconciles the cached custody state with the remote store.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile custody state with the remote credential store",
	Long:  `Reads the remote credential store and overwrites the cached custody tier with what the remote rows actually say: a sealed password means persistent, an active execution session means session, anything else means local.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := current.mgr.Sync(cmd.Context()); err != nil {
			log.Fatalf("%s", i18n.T("error.operation_failed", err))
		}
		fmt.Println(i18n.T("sync.done"))
	},
}

// localCmd migrates to the local custody tier.
var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Migrate to local custody",
	Long:  `Deletes the user's encrypted key record from the remote store, revokes every execution session and resets the custody state. With no remote store configured the state is simply reset.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := current.mgr.ToLocal(cmd.Context()); err != nil {
			log.Fatalf("%s", i18n.T("error.operation_failed", err))
		}
		fmt.Println(i18n.T("migrate.to_local_done"))
	},
}

// sessionCmd migrates to the session custody tier.
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Migrate to session custody",
	Long: `Uploads the encrypted key blob to the remote store and opens a
time-boxed execution session. The wallet password is sealed into the
session token; unattended execution is allowed until the session expires.`,
	Run: func(cmd *cobra.Command, args []string) {
		blob, salt := readBlobInputs(cmd)
		hours, _ := cmd.Flags().GetInt("hours")

		password, err := promptPassword()
		if err != nil {
			log.Fatalf("%s", i18n.T("error.operation_failed", err))
		}
		defer password.Zero()

		if err := current.mgr.ToSession(cmd.Context(), blob, salt, password, hours); err != nil {
			log.Fatalf("%s", i18n.T("error.operation_failed", err))
		}
		fmt.Println(i18n.T("migrate.to_session_done", effectiveHours(hours)))
	},
}

// persistentCmd migrates to the persistent custody tier.
var persistentCmd = &cobra.Command{
	Use:   "persistent",
	Short: "Migrate to persistent custody",
	Long: `Uploads the encrypted key blob together with the sealed wallet
password. Unattended execution stays allowed until explicitly revoked
with 'keyward local'.`,
	Run: func(cmd *cobra.Command, args []string) {
		blob, salt := readBlobInputs(cmd)

		password, err := promptPassword()
		if err != nil {
			log.Fatalf("%s", i18n.T("error.operation_failed", err))
		}
		defer password.Zero()

		if err := current.mgr.ToPersistent(cmd.Context(), blob, salt, password); err != nil {
			log.Fatalf("%s", i18n.T("error.operation_failed", err))
		}
		fmt.Println(i18n.T("migrate.to_persistent_done"))
	},
}

// endCmd ends the current execution session.
var endCmd = &cobra.Command{
	Use:   "end",
	Short: "End the current execution session",
	Long:  `Revokes the active execution session in the remote store and clears it locally. Without an active session this is a no-op.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := current.mgr.EndSession(cmd.Context()); err != nil {
			log.Fatalf("%s", i18n.T("error.operation_failed", err))
		}
		fmt.Println(i18n.T("session.ended"))
	},
}

// refreshCmd rotates the current execution session.
var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the current execution session",
	Long:  `Ends the active execution session and opens a fresh one with a new expiry, reusing the key material already stored remotely. Only valid in the session tier.`,
	Run: func(cmd *cobra.Command, args []string) {
		hours, _ := cmd.Flags().GetInt("hours")

		password, err := promptPassword()
		if err != nil {
			log.Fatalf("%s", i18n.T("error.operation_failed", err))
		}
		defer password.Zero()

		if err := current.mgr.RefreshSession(cmd.Context(), password, hours); err != nil {
			log.Fatalf("%s", i18n.T("error.operation_failed", err))
		}
		fmt.Println(i18n.T("session.refreshed", effectiveHours(hours)))
	},
}

// configCmd groups configuration helpers.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the Keyward configuration file",
}

// configInitCmd writes the resolved configuration to keyward.yaml.
var configInitCmd = &cobra.Command{
	Use:         "init",
	Short:       "Write a keyward.yaml with the current settings",
	Annotations: map[string]string{"standalone": "true"},
	Run: func(cmd *cobra.Command, args []string) {
		system, _ := cmd.Flags().GetBool("system")
		if err := config.WriteConfigFile(&current.cfg, system); err != nil {
			log.Fatalf("%s", i18n.T("error.operation_failed", err))
		}
	},
}

func init() {
	for _, c := range []*cobra.Command{sessionCmd, persistentCmd} {
		c.Flags().String("blob-file", "", "File containing the encrypted key blob")
		c.Flags().String("salt", "", "Encryption salt for the key blob")
		_ = c.MarkFlagRequired("blob-file")
		_ = c.MarkFlagRequired("salt")
	}
	sessionCmd.Flags().Int("hours", 0, "Session duration in hours (default 24)")
	refreshCmd.Flags().Int("hours", 0, "Session duration in hours (default 24)")

	configInitCmd.Flags().Bool("system", false, "Write to the system-wide location instead of the user one")
	configCmd.AddCommand(configInitCmd)
}

// readBlobInputs loads the encrypted key blob and salt named by the
// command's flags. Blob production is out of scope here: the blob arrives
// already encrypted under the user's wallet password.
func readBlobInputs(cmd *cobra.Command) (blob, salt string) {
	blobFile, _ := cmd.Flags().GetString("blob-file")
	salt, _ = cmd.Flags().GetString("salt")

	data, err := os.ReadFile(blobFile)
	if err != nil {
		log.Fatalf("%s", i18n.T("error.read_blob", err))
	}
	return strings.TrimSpace(string(data)), salt
}

// promptPassword reads the wallet password without echo when stdin is a
// terminal, and falls back to a plain line read otherwise (pipes, tests).
func promptPassword() (security.Secret, error) {
	fmt.Print(i18n.T("prompt.password"))

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return nil, err
		}
		return security.FromBytes(raw), nil
	}

	var line string
	if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
		return nil, err
	}
	return security.FromString(line), nil
}

func effectiveHours(hours int) int {
	if hours <= 0 {
		return custody.DefaultSessionHours
	}
	return hours
}
