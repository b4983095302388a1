package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"revai/internal/config"
	"revai/internal/oracle"
)

// doctorCmd is a readiness probe: confirm the oracle endpoint answers, the
// decompiler binary is on disk, and a build tool is reachable, before a run
// is started.
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the oracle, decompiler, and build tool are reachable",
	RunE:  runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ok := true

	if cfg.GhidraPath == "" {
		fmt.Println("[FAIL] ghidra_path is not configured")
		ok = false
	} else if _, err := os.Stat(cfg.GhidraPath); err != nil {
		fmt.Printf("[FAIL] decompiler binary not found at %s: %v\n", cfg.GhidraPath, err)
		ok = false
	} else {
		fmt.Printf("[ OK ] decompiler binary present at %s\n", cfg.GhidraPath)
	}

	if cfg.OracleEndpointURL == "" {
		fmt.Println("[FAIL] oracle_endpoint_url is not configured")
		ok = false
	} else {
		oracleClient, err := oracle.New(ctx, cfg.OracleEndpointURL, cfg.OracleModel,
			cfg.CredentialFor("gemini"), cfg.CredentialFor("http"), cfg.OracleTimeout)
		if err != nil {
			fmt.Printf("[FAIL] build oracle client: %v\n", err)
			ok = false
		} else if err := oracleClient.Ping(ctx); err != nil {
			fmt.Printf("[FAIL] oracle unreachable: %v\n", err)
			ok = false
		} else {
			fmt.Printf("[ OK ] oracle %q reachable\n", oracleClient.Name())
		}
	}

	if _, err := exec.LookPath("make"); err != nil {
		fmt.Println("[FAIL] build tool \"make\" not found on PATH")
		ok = false
	} else {
		fmt.Println("[ OK ] build tool \"make\" found on PATH")
	}

	if !ok {
		return fmt.Errorf("doctor: one or more readiness checks failed")
	}
	fmt.Println("all readiness checks passed")
	return nil
}
