package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Suhridx/pump-dashboard/device"
	"github.com/Suhridx/pump-dashboard/errors"
)

// Target receives backfilled level records. session.Manager satisfies it.
type Target interface {
	Backfill(ctx context.Context, records []device.LevelRecord) error
}

// BackfillConfig selects the archived file to load. Empty Folder or File
// means the latest by name. An empty Schedule disables periodic refresh.
type BackfillConfig struct {
	Folder   string `json:"folder,omitempty" yaml:"folder,omitempty" toml:"folder,omitempty"`
	File     string `json:"file,omitempty" yaml:"file,omitempty" toml:"file,omitempty"`
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty" toml:"schedule,omitempty"`
}

// Result describes one completed backfill.
type Result struct {
	Folder  string    `json:"folder"`
	File    string    `json:"file"`
	Records int       `json:"records"`
	Skipped int       `json:"skipped"`
	At      time.Time `json:"at"`
}

// cronParser accepts 5-field expressions, an optional leading seconds field
// and descriptors such as @hourly.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule reports whether expr is an accepted cron expression.
func ValidateSchedule(expr string) error {
	if expr == "" {
		return nil
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: schedule %q: %v", errors.ErrInvalidConfig, expr, err),
			"Backfiller", "ValidateSchedule", "parse cron expression")
	}
	return nil
}

// Backfiller loads an archived level log into a Target on demand and,
// optionally, on a cron schedule.
type Backfiller struct {
	client *Client
	target Target
	cfg    BackfillConfig
	logger *slog.Logger
	now    func() time.Time

	runMu sync.Mutex

	mu   sync.Mutex
	cron *cron.Cron
	last *Result
}

// NewBackfiller validates cfg and returns an idle Backfiller.
func NewBackfiller(client *Client, target Target, cfg BackfillConfig, logger *slog.Logger) (*Backfiller, error) {
	if client == nil || target == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: backfiller needs a client and a target", errors.ErrMissingConfig),
			"Backfiller", "New", "check dependencies")
	}
	if err := ValidateSchedule(cfg.Schedule); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backfiller{
		client: client,
		target: target,
		cfg:    cfg,
		logger: logger.With("component", "backfill"),
		now:    time.Now,
	}, nil
}

// Run resolves the configured file, parses it and hands the records to the
// target. Concurrent calls are serialized.
func (b *Backfiller) Run(ctx context.Context) (Result, error) {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	folder, file, err := b.resolve(ctx)
	if err != nil {
		return Result{}, err
	}

	doc := b.client.Fetch(ctx, folder, file)
	if doc.Failed {
		return Result{}, errors.WrapTransient(
			fmt.Errorf("%w: %s", errors.ErrArchiveUnavailable, doc.Text),
			"Backfiller", "Run", "fetch level log")
	}

	records, skipped := ParseLevelLog(doc.Text)
	if err := b.target.Backfill(ctx, records); err != nil {
		return Result{}, errors.Wrap(err, "Backfiller", "Run", "hand records to session")
	}

	res := Result{Folder: folder, File: file, Records: len(records), Skipped: skipped, At: b.now()}
	b.mu.Lock()
	b.last = &res
	b.mu.Unlock()

	b.logger.Info("Backfill complete", "folder", folder, "file", file, "records", res.Records, "skipped", skipped)
	return res, nil
}

// Last returns the most recent successful result.
func (b *Backfiller) Last() (Result, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return Result{}, false
	}
	return *b.last, true
}

func (b *Backfiller) resolve(ctx context.Context) (string, string, error) {
	if b.cfg.Folder != "" && b.cfg.File != "" {
		return b.cfg.Folder, b.cfg.File, nil
	}

	folders, err := b.client.ListFolders(ctx)
	if err != nil {
		return "", "", err
	}

	var target *Folder
	if b.cfg.Folder != "" {
		for i := range folders {
			if folders[i].Name == b.cfg.Folder {
				target = &folders[i]
				break
			}
		}
	} else if len(folders) > 0 {
		sorted := append([]Folder(nil), folders...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
		target = &sorted[len(sorted)-1]
	}
	if target == nil {
		return "", "", errors.WrapInvalid(fmt.Errorf("%w: folder %q", errors.ErrNotFound, b.cfg.Folder),
			"Backfiller", "resolve", "find folder")
	}

	if b.cfg.File != "" {
		return target.Name, b.cfg.File, nil
	}
	file, ok := target.Latest()
	if !ok {
		return "", "", errors.WrapInvalid(fmt.Errorf("%w: folder %q has no files", errors.ErrNotFound, target.Name),
			"Backfiller", "resolve", "find latest file")
	}
	return target.Name, file, nil
}

// Start runs one backfill and, when a schedule is configured, starts the cron
// ticker. A failed initial run is logged, not returned: the archive is
// optional and the live stream still works without it.
func (b *Backfiller) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.cron != nil {
		b.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Backfiller", "Start", "start scheduler")
	}

	if b.cfg.Schedule != "" {
		logger := cronLogger{b.logger}
		c := cron.New(cron.WithParser(cronParser), cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
		if _, err := c.AddFunc(b.cfg.Schedule, func() {
			if _, err := b.Run(ctx); err != nil {
				b.logger.Warn("Scheduled backfill failed", "error", err)
			}
		}); err != nil {
			b.mu.Unlock()
			return errors.WrapInvalid(err, "Backfiller", "Start", "register schedule")
		}
		b.cron = c
	}
	b.mu.Unlock()

	if _, err := b.Run(ctx); err != nil {
		b.logger.Warn("Initial backfill failed", "error", err)
	}

	b.mu.Lock()
	if b.cron != nil {
		b.cron.Start()
		b.logger.Info("Backfill scheduled", "schedule", b.cfg.Schedule)
	}
	b.mu.Unlock()
	return nil
}

// Stop stops the cron ticker and waits for a running job.
func (b *Backfiller) Stop() {
	b.mu.Lock()
	c := b.cron
	b.cron = nil
	b.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
