package main

import (
	"fmt"
	"log"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/complygate/complygate/internal/config"
	"github.com/complygate/complygate/internal/service"
)

// inspector prints the effective compliance configuration: which
// retention rules, deadlines and data domains the server would run with.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fmt.Println("--- Deadlines ---")
	fmt.Printf("SLA window:        %d days\n", cfg.Compliance.SLADays)
	fmt.Printf("Warning window:    %d days\n", cfg.Compliance.WarningDays)
	fmt.Printf("Audit retention:   %d years\n", cfg.Compliance.AuditRetentionYears)

	fmt.Println("\n--- Retention Policy ---")
	table := service.NewPolicyTable(cfg.Compliance.RetentionRules)
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tPERIOD\tLEGAL REASON")
	for _, k := range keys {
		rule := table[k]
		fmt.Fprintf(w, "%s\t%d years\t%s\n", rule.Category, rule.PeriodYears, rule.LegalReason)
	}
	w.Flush()
	if len(keys) == 0 {
		fmt.Println("(no retention rules configured; deletions delete everything)")
	}

	fmt.Println("\n--- Data Domains ---")
	for _, d := range cfg.Domains {
		fmt.Printf("%s (%s) -> %s\n", d.Key, d.Label, d.BaseURL)
	}
	if len(cfg.Domains) == 0 {
		fmt.Println("(no domains configured)")
	}
}
