package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tau-run/tau/internal/cron"
	"github.com/tau-run/tau/internal/store"
)

// InspectConfig configures events-inspect.
type InspectConfig struct {
	EventsDir                   string
	StatePath                   string
	QueueLimit                  int
	StaleImmediateMaxAgeSeconds int64
}

// InspectReport summarizes the current discovered/due state of the
// events directory without executing anything.
type InspectReport struct {
	EventsDir                      string `json:"events_dir"`
	StatePath                      string `json:"state_path"`
	NowUnixMS                      int64  `json:"now_unix_ms"`
	QueueLimit                     int    `json:"queue_limit"`
	StaleImmediateMaxAgeSeconds    int64  `json:"stale_immediate_max_age_seconds"`
	DiscoveredEvents               int    `json:"discovered_events"`
	MalformedEvents                int    `json:"malformed_events"`
	EnabledEvents                  int    `json:"enabled_events"`
	DisabledEvents                 int    `json:"disabled_events"`
	ScheduleImmediateEvents        int    `json:"schedule_immediate_events"`
	ScheduleAtEvents               int    `json:"schedule_at_events"`
	SchedulePeriodicEvents         int    `json:"schedule_periodic_events"`
	DueNowEvents                   int    `json:"due_now_events"`
	QueuedNowEvents                int    `json:"queued_now_events"`
	NotDueEvents                   int    `json:"not_due_events"`
	StaleImmediateEvents           int    `json:"stale_immediate_events"`
	DueEvalFailedEvents            int    `json:"due_eval_failed_events"`
	PeriodicWithLastRunState       int    `json:"periodic_with_last_run_state"`
	PeriodicMissingLastRunState    int    `json:"periodic_missing_last_run_state"`
}

// InspectEvents evaluates every discovered event against nowUnixMS and
// tallies counts by schedule kind and due decision, without mutating
// any manifest or state file.
func InspectEvents(config InspectConfig, nowUnixMS int64) (InspectReport, error) {
	queueLimit := config.QueueLimit
	if queueLimit < 1 {
		queueLimit = 1
	}
	records, malformed, err := loadRecords(config.EventsDir)
	if err != nil {
		return InspectReport{}, err
	}
	state, err := loadRunnerState(config.StatePath)
	if err != nil {
		return InspectReport{}, err
	}

	report := InspectReport{
		EventsDir:                   config.EventsDir,
		StatePath:                   config.StatePath,
		NowUnixMS:                   nowUnixMS,
		QueueLimit:                  queueLimit,
		StaleImmediateMaxAgeSeconds: config.StaleImmediateMaxAgeSeconds,
		DiscoveredEvents:            len(records),
		MalformedEvents:             malformed,
	}

	for _, rec := range records {
		event := rec.definition
		if event.Enabled {
			report.EnabledEvents++
		} else {
			report.DisabledEvents++
		}

		switch event.Schedule.Kind {
		case ScheduleImmediate:
			report.ScheduleImmediateEvents++
		case ScheduleAt:
			report.ScheduleAtEvents++
		case SchedulePeriodic:
			report.SchedulePeriodicEvents++
			if _, ok := state.PeriodicLastRunUnixMS[event.ID]; ok {
				report.PeriodicWithLastRunState++
			} else {
				report.PeriodicMissingLastRunState++
			}
		}

		decision, err := dueDecision(event, state, nowUnixMS, config.StaleImmediateMaxAgeSeconds)
		if err != nil {
			report.DueEvalFailedEvents++
			continue
		}
		switch decision {
		case DueRun:
			report.DueNowEvents++
		case DueNotDue:
			report.NotDueEvents++
		case DueSkipStaleRemove:
			report.StaleImmediateEvents++
		}
	}

	report.QueuedNowEvents = min(report.DueNowEvents, queueLimit)
	return report, nil
}

// ValidateConfig configures events-validate.
type ValidateConfig struct {
	EventsDir string
	StatePath string
}

// ValidateDiagnostic explains why one manifest file failed validation.
type ValidateDiagnostic struct {
	Path       string `json:"path"`
	EventID    string `json:"event_id,omitempty"`
	ReasonCode string `json:"reason_code"`
	Message    string `json:"message"`
}

// ValidateReport is the outcome of validating every manifest file in
// the events directory.
type ValidateReport struct {
	EventsDir     string               `json:"events_dir"`
	StatePath     string               `json:"state_path"`
	NowUnixMS     int64                `json:"now_unix_ms"`
	TotalFiles    int                  `json:"total_files"`
	ValidFiles    int                  `json:"valid_files"`
	InvalidFiles  int                  `json:"invalid_files"`
	MalformedFiles int                 `json:"malformed_files"`
	FailedFiles   int                  `json:"failed_files"`
	DisabledFiles int                  `json:"disabled_files"`
	Diagnostics   []ValidateDiagnostic `json:"diagnostics"`
}

// ValidateEventsDefinitions reads every manifest file directly from
// disk (bypassing loadRecords's mtime enrichment) and reports
// per-file parse/schedule/channel errors.
func ValidateEventsDefinitions(config ValidateConfig, nowUnixMS int64) (ValidateReport, error) {
	state, err := loadRunnerState(config.StatePath)
	if err != nil {
		return ValidateReport{}, err
	}
	paths, err := collectEventDefinitionPaths(config.EventsDir)
	if err != nil {
		return ValidateReport{}, err
	}

	report := ValidateReport{
		EventsDir:  config.EventsDir,
		StatePath:  config.StatePath,
		NowUnixMS:  nowUnixMS,
		TotalFiles: len(paths),
	}

	for _, path := range paths {
		definition, ok := readDefinitionFile(path, &report.Diagnostics, &report.MalformedFiles)
		if !ok {
			continue
		}
		if !definition.Enabled {
			report.DisabledFiles++
		}

		hasFailure := false
		if _, err := parseChannelRef(definition.Channel); err != nil {
			hasFailure = true
			report.Diagnostics = append(report.Diagnostics, ValidateDiagnostic{
				Path:       path,
				EventID:    definition.ID,
				ReasonCode: "channel_ref_invalid",
				Message:    sanitizeErrorMessage(err.Error()),
			})
		}
		if err := validateEventSchedule(definition, state, nowUnixMS); err != nil {
			hasFailure = true
			report.Diagnostics = append(report.Diagnostics, ValidateDiagnostic{
				Path:       path,
				EventID:    definition.ID,
				ReasonCode: "schedule_invalid",
				Message:    sanitizeErrorMessage(err.Error()),
			})
		}

		if hasFailure {
			report.InvalidFiles++
		} else {
			report.ValidFiles++
		}
	}

	report.FailedFiles = report.InvalidFiles + report.MalformedFiles
	return report, nil
}

func validateEventSchedule(event Definition, state RunnerState, nowUnixMS int64) error {
	if event.Schedule.Kind != SchedulePeriodic {
		return nil
	}
	lastRun, seen := state.PeriodicLastRunUnixMS[event.ID]
	if !seen {
		lastRun = nowUnixMS - 60_000
	}
	_, err := cron.NextDueUnixMS(event.Schedule.Cron, event.Schedule.Timezone, lastRun)
	return err
}

// SimulateConfig configures events-simulate.
type SimulateConfig struct {
	EventsDir                   string
	StatePath                   string
	HorizonSeconds              int64
	StaleImmediateMaxAgeSeconds int64
}

// SimulateRow projects one event's next occurrence.
type SimulateRow struct {
	Path            string `json:"path"`
	EventID         string `json:"event_id"`
	Channel         string `json:"channel"`
	Schedule        string `json:"schedule"`
	Enabled         bool   `json:"enabled"`
	NextDueUnixMS   *int64 `json:"next_due_unix_ms,omitempty"`
	DueNow          bool   `json:"due_now"`
	WithinHorizon   bool   `json:"within_horizon"`
	LastRunUnixMS   *int64 `json:"last_run_unix_ms,omitempty"`
}

// SimulateReport projects due dates for every manifest over a horizon.
type SimulateReport struct {
	EventsDir       string               `json:"events_dir"`
	StatePath       string               `json:"state_path"`
	NowUnixMS       int64                `json:"now_unix_ms"`
	HorizonSeconds  int64                `json:"horizon_seconds"`
	TotalFiles      int                  `json:"total_files"`
	SimulatedRows   int                  `json:"simulated_rows"`
	MalformedFiles  int                  `json:"malformed_files"`
	InvalidRows     int                  `json:"invalid_rows"`
	DueNowRows      int                  `json:"due_now_rows"`
	WithinHorizonRows int                `json:"within_horizon_rows"`
	Rows            []SimulateRow        `json:"rows"`
	Diagnostics     []ValidateDiagnostic `json:"diagnostics"`
}

// SimulateEvents computes, for every manifest, its next due instant
// within the given horizon, without executing or mutating anything.
func SimulateEvents(config SimulateConfig, nowUnixMS int64) (SimulateReport, error) {
	state, err := loadRunnerState(config.StatePath)
	if err != nil {
		return SimulateReport{}, err
	}
	paths, err := collectEventDefinitionPaths(config.EventsDir)
	if err != nil {
		return SimulateReport{}, err
	}
	horizonUnixMS := nowUnixMS + config.HorizonSeconds*1000

	var rows []SimulateRow
	var diagnostics []ValidateDiagnostic
	malformed := 0

	for _, path := range paths {
		definition, ok := readDefinitionFile(path, &diagnostics, &malformed)
		if !ok {
			continue
		}
		if _, err := parseChannelRef(definition.Channel); err != nil {
			diagnostics = append(diagnostics, ValidateDiagnostic{
				Path:       path,
				EventID:    definition.ID,
				ReasonCode: "channel_ref_invalid",
				Message:    sanitizeErrorMessage(err.Error()),
			})
			continue
		}

		var nextDue *int64
		switch definition.Schedule.Kind {
		case ScheduleImmediate:
			if definition.Enabled {
				decision, err := dueDecision(definition, state, nowUnixMS, config.StaleImmediateMaxAgeSeconds)
				if err != nil {
					diagnostics = append(diagnostics, ValidateDiagnostic{
						Path:       path,
						EventID:    definition.ID,
						ReasonCode: "schedule_invalid",
						Message:    sanitizeErrorMessage(err.Error()),
					})
					continue
				}
				if decision == DueRun {
					value := nowUnixMS
					nextDue = &value
				}
			}
		case ScheduleAt:
			value := definition.Schedule.AtUnixMS
			nextDue = &value
		case SchedulePeriodic:
			lastRun, seen := state.PeriodicLastRunUnixMS[definition.ID]
			if !seen {
				lastRun = nowUnixMS - 60_000
			}
			next, err := cron.NextDueUnixMS(definition.Schedule.Cron, definition.Schedule.Timezone, lastRun)
			if err != nil {
				diagnostics = append(diagnostics, ValidateDiagnostic{
					Path:       path,
					EventID:    definition.ID,
					ReasonCode: "schedule_invalid",
					Message:    sanitizeErrorMessage(err.Error()),
				})
				continue
			}
			nextDue = &next
		}

		dueNow := definition.Enabled && nextDue != nil && *nextDue <= nowUnixMS
		withinHorizon := definition.Enabled && nextDue != nil && *nextDue <= horizonUnixMS
		var lastRunPtr *int64
		if lastRun, ok := state.PeriodicLastRunUnixMS[definition.ID]; ok {
			lastRunPtr = &lastRun
		}

		rows = append(rows, SimulateRow{
			Path:          path,
			EventID:       definition.ID,
			Channel:       definition.Channel,
			Schedule:      string(definition.Schedule.Kind),
			Enabled:       definition.Enabled,
			NextDueUnixMS: nextDue,
			DueNow:        dueNow,
			WithinHorizon: withinHorizon,
			LastRunUnixMS: lastRunPtr,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].EventID != rows[j].EventID {
			return rows[i].EventID < rows[j].EventID
		}
		return rows[i].Path < rows[j].Path
	})

	dueNowRows, withinHorizonRows := 0, 0
	for _, row := range rows {
		if row.DueNow {
			dueNowRows++
		}
		if row.WithinHorizon {
			withinHorizonRows++
		}
	}
	invalidRows := len(diagnostics) - malformed

	return SimulateReport{
		EventsDir:         config.EventsDir,
		StatePath:         config.StatePath,
		NowUnixMS:         nowUnixMS,
		HorizonSeconds:    config.HorizonSeconds,
		TotalFiles:        len(paths),
		SimulatedRows:     len(rows),
		MalformedFiles:    malformed,
		InvalidRows:       invalidRows,
		DueNowRows:        dueNowRows,
		WithinHorizonRows: withinHorizonRows,
		Rows:              rows,
		Diagnostics:        diagnostics,
	}, nil
}

// DryRunConfig configures events-dry-run.
type DryRunConfig struct {
	EventsDir                   string
	StatePath                   string
	QueueLimit                  int
	StaleImmediateMaxAgeSeconds int64
}

// DryRunRow is the per-manifest decision from a dry run, mirroring
// exactly what one real poll cycle would do without executing
// anything.
type DryRunRow struct {
	Path          string `json:"path"`
	EventID       string `json:"event_id,omitempty"`
	Channel       string `json:"channel,omitempty"`
	Schedule      string `json:"schedule,omitempty"`
	Enabled       *bool  `json:"enabled,omitempty"`
	Decision      string `json:"decision"`
	ReasonCode    string `json:"reason_code"`
	QueuePosition int    `json:"queue_position,omitempty"`
	LastRunUnixMS *int64 `json:"last_run_unix_ms,omitempty"`
	Message       string `json:"message,omitempty"`
}

// DryRunReport is the full dry-run outcome.
type DryRunReport struct {
	EventsDir      string      `json:"events_dir"`
	StatePath      string      `json:"state_path"`
	NowUnixMS      int64       `json:"now_unix_ms"`
	QueueLimit     int         `json:"queue_limit"`
	TotalFiles     int         `json:"total_files"`
	EvaluatedRows  int         `json:"evaluated_rows"`
	ExecuteRows    int         `json:"execute_rows"`
	SkippedRows    int         `json:"skipped_rows"`
	ErrorRows      int         `json:"error_rows"`
	MalformedFiles int         `json:"malformed_files"`
	Rows           []DryRunRow `json:"rows"`
}

// DryRunEvents simulates exactly one poll cycle's queueing decisions
// without executing or mutating any manifest or state file.
func DryRunEvents(config DryRunConfig, nowUnixMS int64) (DryRunReport, error) {
	state, err := loadRunnerState(config.StatePath)
	if err != nil {
		return DryRunReport{}, err
	}
	paths, err := collectEventDefinitionPaths(config.EventsDir)
	if err != nil {
		return DryRunReport{}, err
	}
	queueLimit := config.QueueLimit
	if queueLimit < 1 {
		queueLimit = 1
	}

	var rows []DryRunRow
	malformed := 0
	type candidate struct {
		path       string
		definition Definition
	}
	var candidates []candidate

	for _, path := range paths {
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			malformed++
			rows = append(rows, DryRunRow{Path: path, Decision: "error", ReasonCode: "read_error", Message: sanitizeErrorMessage(readErr.Error())})
			continue
		}
		var definition Definition
		if jsonErr := json.Unmarshal(raw, &definition); jsonErr != nil {
			malformed++
			rows = append(rows, DryRunRow{Path: path, Decision: "error", ReasonCode: "json_parse", Message: sanitizeErrorMessage(jsonErr.Error())})
			continue
		}
		schedule := string(definition.Schedule.Kind)
		if _, err := parseChannelRef(definition.Channel); err != nil {
			enabled := definition.Enabled
			rows = append(rows, DryRunRow{
				Path: path, EventID: definition.ID, Channel: definition.Channel, Schedule: schedule,
				Enabled: &enabled, Decision: "error", ReasonCode: "channel_ref_invalid",
				Message: sanitizeErrorMessage(err.Error()),
			})
			continue
		}
		candidates = append(candidates, candidate{path: path, definition: definition})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].definition.ID != candidates[j].definition.ID {
			return candidates[i].definition.ID < candidates[j].definition.ID
		}
		return candidates[i].path < candidates[j].path
	})

	queued := 0
	for _, c := range candidates {
		definition := c.definition
		schedule := string(definition.Schedule.Kind)
		enabled := definition.Enabled
		var lastRunPtr *int64
		if lastRun, ok := state.PeriodicLastRunUnixMS[definition.ID]; ok {
			lastRunPtr = &lastRun
		}

		if queued >= queueLimit {
			rows = append(rows, DryRunRow{
				Path: c.path, EventID: definition.ID, Channel: definition.Channel, Schedule: schedule,
				Enabled: &enabled, Decision: "skip", ReasonCode: "queue_limit_reached", LastRunUnixMS: lastRunPtr,
			})
			continue
		}

		decision, err := dueDecision(definition, state, nowUnixMS, config.StaleImmediateMaxAgeSeconds)
		if err != nil {
			rows = append(rows, DryRunRow{
				Path: c.path, EventID: definition.ID, Channel: definition.Channel, Schedule: schedule,
				Enabled: &enabled, Decision: "error", ReasonCode: "schedule_invalid", LastRunUnixMS: lastRunPtr,
				Message: sanitizeErrorMessage(err.Error()),
			})
			continue
		}
		switch decision {
		case DueRun:
			queued++
			rows = append(rows, DryRunRow{
				Path: c.path, EventID: definition.ID, Channel: definition.Channel, Schedule: schedule,
				Enabled: &enabled, Decision: "execute", ReasonCode: "due_now", QueuePosition: queued, LastRunUnixMS: lastRunPtr,
			})
		case DueNotDue:
			rows = append(rows, DryRunRow{
				Path: c.path, EventID: definition.ID, Channel: definition.Channel, Schedule: schedule,
				Enabled: &enabled, Decision: "skip", ReasonCode: "not_due", LastRunUnixMS: lastRunPtr,
			})
		case DueSkipStaleRemove:
			rows = append(rows, DryRunRow{
				Path: c.path, EventID: definition.ID, Channel: definition.Channel, Schedule: schedule,
				Enabled: &enabled, Decision: "skip", ReasonCode: "stale_immediate", LastRunUnixMS: lastRunPtr,
			})
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].EventID != rows[j].EventID {
			return rows[i].EventID < rows[j].EventID
		}
		if rows[i].Path != rows[j].Path {
			return rows[i].Path < rows[j].Path
		}
		return rows[i].ReasonCode < rows[j].ReasonCode
	})

	executeRows, skippedRows, errorRows := 0, 0, 0
	for _, row := range rows {
		switch row.Decision {
		case "execute":
			executeRows++
		case "skip":
			skippedRows++
		case "error":
			errorRows++
		}
	}

	return DryRunReport{
		EventsDir:      config.EventsDir,
		StatePath:      config.StatePath,
		NowUnixMS:      nowUnixMS,
		QueueLimit:     queueLimit,
		TotalFiles:     len(paths),
		EvaluatedRows:  len(rows),
		ExecuteRows:    executeRows,
		SkippedRows:    skippedRows,
		ErrorRows:      errorRows,
		MalformedFiles: malformed,
		Rows:           rows,
	}, nil
}

// DryRunGateConfig bounds what a dry run is allowed to show before CI
// should fail the run.
type DryRunGateConfig struct {
	MaxErrorRows   *int
	MaxExecuteRows *int
}

// DryRunGateOutcome is the pass/fail verdict for one dry-run report
// against a DryRunGateConfig.
type DryRunGateOutcome struct {
	Status         string   `json:"status"`
	ReasonCodes    []string `json:"reason_codes"`
	ExecuteRows    int      `json:"execute_rows"`
	SkippedRows    int      `json:"skipped_rows"`
	ErrorRows      int      `json:"error_rows"`
	MaxErrorRows   *int     `json:"max_error_rows,omitempty"`
	MaxExecuteRows *int     `json:"max_execute_rows,omitempty"`
}

func evaluateDryRunGate(report DryRunReport, config DryRunGateConfig) DryRunGateOutcome {
	var reasonCodes []string
	if config.MaxErrorRows != nil && report.ErrorRows > *config.MaxErrorRows {
		reasonCodes = append(reasonCodes, "max_error_rows_exceeded")
	}
	if config.MaxExecuteRows != nil && report.ExecuteRows > *config.MaxExecuteRows {
		reasonCodes = append(reasonCodes, "max_execute_rows_exceeded")
	}
	status := "pass"
	if len(reasonCodes) > 0 {
		status = "fail"
	}
	return DryRunGateOutcome{
		Status:         status,
		ReasonCodes:    reasonCodes,
		ExecuteRows:    report.ExecuteRows,
		SkippedRows:    report.SkippedRows,
		ErrorRows:      report.ErrorRows,
		MaxErrorRows:   config.MaxErrorRows,
		MaxExecuteRows: config.MaxExecuteRows,
	}
}

// EnforceDryRunGate logs the gate outcome and returns an error if the
// dry run exceeded its configured bounds.
func EnforceDryRunGate(report DryRunReport, config DryRunGateConfig) error {
	outcome := evaluateDryRunGate(report, config)
	reasonText := "none"
	if len(outcome.ReasonCodes) > 0 {
		reasonText = strings.Join(outcome.ReasonCodes, ",")
	}
	slog.Info("events dry run gate",
		"status", outcome.Status,
		"reason_codes", reasonText,
		"execute_rows", outcome.ExecuteRows,
		"skipped_rows", outcome.SkippedRows,
		"error_rows", outcome.ErrorRows,
	)
	if outcome.Status == "fail" {
		return fmt.Errorf("events dry run gate failed: %s", reasonText)
	}
	return nil
}

// TemplateSchedule selects which Schedule kind events-template
// writes.
type TemplateSchedule string

const (
	TemplateImmediate TemplateSchedule = "immediate"
	TemplateAt        TemplateSchedule = "at"
	TemplatePeriodic  TemplateSchedule = "periodic"
)

// TemplateConfig configures events-template.
type TemplateConfig struct {
	TargetPath string
	Overwrite  bool
	Schedule   TemplateSchedule
	Channel    string
	Prompt     string
	EventID    string
	AtUnixMS   int64
	Cron       string
	Timezone   string
}

// TemplateWriteReport summarizes the manifest written by
// WriteEventTemplate.
type TemplateWriteReport struct {
	Path      string `json:"path"`
	Schedule  string `json:"schedule"`
	EventID   string `json:"event_id"`
	Channel   string `json:"channel"`
	Overwrite bool   `json:"overwrite"`
}

// WriteEventTemplate synthesizes and writes a starter event manifest.
func WriteEventTemplate(config TemplateConfig, nowUnixMS int64) (TemplateWriteReport, error) {
	if _, err := os.Stat(config.TargetPath); err == nil && !config.Overwrite {
		return TemplateWriteReport{}, fmt.Errorf("template path already exists (use --events-template-overwrite=true): %s", config.TargetPath)
	}

	channel := strings.TrimSpace(config.Channel)
	if channel == "" {
		return TemplateWriteReport{}, fmt.Errorf("events template channel must be non-empty")
	}
	if _, err := parseChannelRef(channel); err != nil {
		return TemplateWriteReport{}, err
	}

	var schedule Schedule
	switch config.Schedule {
	case TemplateImmediate:
		schedule = Schedule{Kind: ScheduleImmediate}
	case TemplateAt:
		if config.AtUnixMS == 0 {
			return TemplateWriteReport{}, fmt.Errorf("events template requires at_unix_ms for schedule=at")
		}
		schedule = Schedule{Kind: ScheduleAt, AtUnixMS: config.AtUnixMS}
	case TemplatePeriodic:
		exprCron := strings.TrimSpace(config.Cron)
		if exprCron == "" {
			return TemplateWriteReport{}, fmt.Errorf("events template requires cron for schedule=periodic")
		}
		timezone := strings.TrimSpace(config.Timezone)
		if timezone == "" {
			return TemplateWriteReport{}, fmt.Errorf("events template requires timezone for schedule=periodic")
		}
		if _, err := cron.NextDueUnixMS(exprCron, timezone, nowUnixMS-60_000); err != nil {
			return TemplateWriteReport{}, err
		}
		schedule = Schedule{Kind: SchedulePeriodic, Cron: exprCron, Timezone: timezone}
	default:
		return TemplateWriteReport{}, fmt.Errorf("unsupported events template schedule %q", config.Schedule)
	}

	eventID := strings.TrimSpace(config.EventID)
	if eventID == "" {
		switch schedule.Kind {
		case ScheduleImmediate:
			eventID = "template-immediate"
		case ScheduleAt:
			eventID = "template-at"
		case SchedulePeriodic:
			eventID = "template-periodic"
		}
	}

	prompt := strings.TrimSpace(config.Prompt)
	if prompt == "" {
		prompt = "Summarize current context and propose the next best action."
	}

	created := nowUnixMS
	template := Definition{
		ID:            eventID,
		Channel:       channel,
		Prompt:        prompt,
		Schedule:      schedule,
		Enabled:       true,
		CreatedUnixMS: &created,
	}

	if parent := filepath.Dir(config.TargetPath); parent != "." && parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return TemplateWriteReport{}, fmt.Errorf("create %s: %w", parent, err)
		}
	}
	encoded, err := json.MarshalIndent(template, "", "  ")
	if err != nil {
		return TemplateWriteReport{}, fmt.Errorf("encode event template: %w", err)
	}
	encoded = append(encoded, '\n')
	if err := store.WriteFileAtomic(config.TargetPath, encoded, 0o644); err != nil {
		return TemplateWriteReport{}, fmt.Errorf("write %s: %w", config.TargetPath, err)
	}

	return TemplateWriteReport{
		Path:      config.TargetPath,
		Schedule:  string(schedule.Kind),
		EventID:   eventID,
		Channel:   channel,
		Overwrite: config.Overwrite,
	}, nil
}

func collectEventDefinitionPaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read events dir %s: %w", dir, err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func readDefinitionFile(path string, diagnostics *[]ValidateDiagnostic, malformed *int) (Definition, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		*malformed++
		*diagnostics = append(*diagnostics, ValidateDiagnostic{Path: path, ReasonCode: "read_error", Message: sanitizeErrorMessage(err.Error())})
		return Definition{}, false
	}
	var definition Definition
	if err := json.Unmarshal(raw, &definition); err != nil {
		*malformed++
		*diagnostics = append(*diagnostics, ValidateDiagnostic{Path: path, ReasonCode: "json_parse", Message: sanitizeErrorMessage(err.Error())})
		return Definition{}, false
	}
	return definition, true
}

func sanitizeErrorMessage(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}
