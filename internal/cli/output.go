package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/ralt/cvmfs-scraper/internal/manifest"
	"github.com/ralt/cvmfs-scraper/internal/metadata"
	"github.com/ralt/cvmfs-scraper/internal/models"
	"github.com/ralt/cvmfs-scraper/internal/scraper"
	"github.com/ralt/cvmfs-scraper/internal/status"
)

type serverView struct {
	Host            models.Hostname          `json:"host"`
	Type            models.ServerType        `json:"type"`
	Backend         models.BackendType       `json:"backend"`
	BackendDetected *models.BackendType      `json:"backend_detected,omitempty"`
	Error           string                   `json:"error,omitempty"`
	Metadata        *metadata.ServerMetadata `json:"metadata,omitempty"`
	Repositories    []repositoryView         `json:"repositories,omitempty"`
}

type repositoryView struct {
	scraper.RepositoryResult
	Revision    uint64         `json:"revision,omitempty"`
	RootCatalog *manifest.Hash `json:"root_catalog,omitempty"`
	Error       string         `json:"error,omitempty"`
	StatusError string         `json:"status_error,omitempty"`
}

func newRepositoryView(r scraper.RepositoryResult) repositoryView {
	v := repositoryView{RepositoryResult: r, Revision: r.Revision()}
	if r.Manifest != nil {
		h := r.Manifest.RootCatalog
		v.RootCatalog = &h
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	if r.StatusErr != nil {
		v.StatusError = r.StatusErr.Error()
	}
	return v
}

func newServerView(s scraper.ScrapedServer) serverView {
	srv := s.Server()
	v := serverView{Host: srv.Hostname, Type: srv.Type, Backend: srv.Backend}
	if s.IsFailed() {
		v.Error = s.Failed.Err.Error()
		return v
	}
	detected := s.Populated.BackendDetected
	v.BackendDetected = &detected
	v.Metadata = &s.Populated.Metadata
	for _, r := range s.Populated.Repositories {
		v.Repositories = append(v.Repositories, newRepositoryView(r))
	}
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeServersJSON(w io.Writer, results []scraper.ScrapedServer) error {
	views := make([]serverView, 0, len(results))
	for _, s := range results {
		views = append(views, newServerView(s))
	}
	return writeJSON(w, views)
}

func colorResult(r manifest.CheckResult) string {
	switch r {
	case manifest.Pass:
		return color.GreenString(r.String())
	case manifest.Fail:
		return color.RedString(r.String())
	default:
		return color.YellowString(r.String())
	}
}

func colorVerdict(v status.Verdict) string {
	switch v {
	case status.Consistent:
		return color.GreenString(v.String())
	case status.RootHashMismatch, status.RevisionMismatch, status.StatusMalformed:
		return color.RedString(v.String())
	default:
		return color.YellowString(v.String())
	}
}

func structuralSummary(checks []manifest.Check) string {
	var failed []string
	for _, c := range checks {
		if c.Result == manifest.Fail {
			failed = append(failed, c.Name)
		}
	}
	if len(failed) == 0 {
		return colorResult(manifest.Pass)
	}
	return colorResult(manifest.Fail) + " " + strings.Join(failed, ",")
}

func printServers(w io.Writer, results []scraper.ScrapedServer) error {
	for i, s := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if err := printServer(w, s); err != nil {
			return err
		}
	}
	return nil
}

func printServer(w io.Writer, s scraper.ScrapedServer) error {
	srv := s.Server()
	if s.IsFailed() {
		fmt.Fprintf(w, "%s %s\n", color.New(color.Bold).Sprint(srv), color.RedString("FAILED: %v", s.Failed.Err))
		return nil
	}

	p := s.Populated
	fmt.Fprintf(w, "%s backend=%s %s\n", color.New(color.Bold).Sprint(srv), p.BackendDetected, p.Metadata)

	table := tablewriter.NewTable(w)
	table.Header("Repository", "Revision", "Structural", "Signature", "Status", "Advertised")
	for _, r := range p.Repositories {
		if err := table.Append(repositoryRow(r)); err != nil {
			return err
		}
	}
	return table.Render()
}

func repositoryRow(r scraper.RepositoryResult) []string {
	if r.Err != nil {
		return []string{r.Name, "-", color.RedString("error: %v", r.Err), "-", "-", colorResult(r.Advertised)}
	}
	return []string{
		r.Name,
		strconv.FormatUint(r.Revision(), 10),
		structuralSummary(r.Structural),
		colorResult(r.Signature.Result) + " " + r.Signature.Reason.String(),
		colorVerdict(r.Consistency.Verdict),
		colorResult(r.Advertised),
	}
}

func printReport(w io.Writer, report *manifest.Report, rec *status.Reconciliation) error {
	table := tablewriter.NewTable(w)
	table.Header("Check", "Result", "Detail")
	for _, c := range report.Structural {
		if err := table.Append([]string{c.Name, colorResult(c.Result), c.Detail}); err != nil {
			return err
		}
	}
	sig := report.Signature
	if err := table.Append([]string{"signature", colorResult(sig.Result), strings.TrimSpace(sig.Reason.String() + " " + sig.Detail)}); err != nil {
		return err
	}
	if rec != nil {
		if err := table.Append([]string{"status", colorVerdict(rec.Verdict), rec.Detail}); err != nil {
			return err
		}
	}
	return table.Render()
}

// countFailures returns the failed servers and failed repositories
func countFailures(results []scraper.ScrapedServer) (servers, repos int) {
	for _, s := range results {
		if s.IsFailed() {
			servers++
			continue
		}
		for i := range s.Populated.Repositories {
			if s.Populated.Repositories[i].Failed() {
				repos++
			}
		}
	}
	return servers, repos
}
