// Package presence keeps the bot's displayed status and activity asserted on a fixed interval.
package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-co-op/gocron/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"clutchbot/tracer"
)

// DefaultInterval is how often the presence is re-asserted.
const DefaultInterval = 5 * time.Minute

var ErrAlreadyRunning = errors.New("presence updater already running")

// State is the (status, activity) pair shown to other users.
type State struct {
	Status   discordgo.Status
	Activity string
	Type     discordgo.ActivityType
}

// DefaultState shows "Playing Clutch Info 📑" with do-not-disturb status.
var DefaultState = State{
	Status:   discordgo.StatusDoNotDisturb,
	Activity: "Clutch Info 📑",
	Type:     discordgo.ActivityTypeGame,
}

func (st State) UpdateData() discordgo.UpdateStatusData {
	return discordgo.UpdateStatusData{
		Status: string(st.Status),
		Activities: []*discordgo.Activity{
			{
				Name: st.Activity,
				Type: st.Type,
			},
		},
	}
}

// StatusUpdater is implemented by *discordgo.Session.
type StatusUpdater interface {
	UpdateStatusComplex(usd discordgo.UpdateStatusData) error
}

// UpdateError is returned when a single presence update fails.
type UpdateError struct {
	Err error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("presence update failed: %v", e.Err)
}

func (e *UpdateError) Unwrap() error {
	return e.Err
}

// Updater re-applies a fixed State every interval once started.
type Updater struct {
	log      *zap.Logger
	gateway  StatusUpdater
	state    State
	interval time.Duration

	mu        sync.Mutex
	scheduler gocron.Scheduler
	running   bool
}

func New(log *zap.Logger, gateway StatusUpdater, state State, interval time.Duration) *Updater {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Updater{
		log:      log,
		gateway:  gateway,
		state:    state,
		interval: interval,
	}
}

// Apply submits the presence once.
func (u *Updater) Apply(ctx context.Context) error {
	_, span := tracer.Start(ctx, "presence.apply", trace.WithAttributes(
		attribute.String("status", string(u.state.Status)),
		attribute.String("activity", u.state.Activity),
	))
	defer span.End()

	if err := u.gateway.UpdateStatusComplex(u.state.UpdateData()); err != nil {
		span.RecordError(err)
		return &UpdateError{Err: err}
	}
	return nil
}

// Start schedules the recurring update. The first tick fires one interval from now.
func (u *Updater) Start() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.running {
		return ErrAlreadyRunning
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(u.interval),
		gocron.NewTask(u.tick),
		gocron.WithName("presence"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("schedule presence job: %w", err)
	}

	s.Start()
	u.scheduler = s
	u.running = true
	u.log.Info("presence updater started", zap.Duration("interval", u.interval))
	return nil
}

func (u *Updater) tick() {
	if err := u.Apply(context.Background()); err != nil {
		u.log.Warn("status update failed", zap.Error(err))
		return
	}
	u.log.Debug("status updated", zap.String("activity", u.state.Activity))
}

// Running reports whether the recurring job is scheduled.
func (u *Updater) Running() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.running
}

// Stop abandons the timer; it is only called on shutdown.
func (u *Updater) Stop() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.running {
		return nil
	}
	u.running = false
	if err := u.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("stop presence scheduler: %w", err)
	}
	u.log.Debug("presence updater stopped")
	return nil
}
