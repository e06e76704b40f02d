package cmd

import (
	"sync"
	"time"

	"go.uber.org/zap"

	datastoreMemory "github.com/JakeFAU/profile-feedback/internal/datastore/memory"
	"github.com/JakeFAU/profile-feedback/internal/feedback"
	"github.com/JakeFAU/profile-feedback/internal/id/uuid"
	notifyMemory "github.com/JakeFAU/profile-feedback/internal/notify/memory"
)

type demoSection struct {
	text  string
	score float64
}

var demoFeedback = map[feedback.Section]demoSection{
	feedback.SectionHeadline: {
		text:  "The headline names a role but not the problems you solve. Add one concrete specialty.",
		score: 3,
	},
	feedback.SectionAbout: {
		text:  "Clear story with measurable results. Close with what you are looking for next.",
		score: 4,
	},
	feedback.SectionExperience: {
		text:  "Most roles list duties. Rewrite the top bullet of each role as an outcome with a number.",
		score: 3,
	},
	feedback.SectionProjects: {
		text:  "Two strong projects. Link the repositories and say what you personally built.",
		score: 4,
	},
	feedback.SectionCertificates: {
		text:  "Certifications are current and relevant to the headline.",
		score: 5,
	},
}

// demoPipeline stands in for the external analysis service: every
// notification starts filling the row one section at a time.
type demoPipeline struct {
	store    *datastoreMemory.Store
	notifier *notifyMemory.Notifier
	step     time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup
	done     chan struct{}
	once     sync.Once
}

func newDemoPipeline(step time.Duration, logger *zap.Logger) *demoPipeline {
	d := &demoPipeline{
		store:  datastoreMemory.New(uuid.New(), time.Now),
		step:   step,
		logger: logger.Named("demo"),
		done:   make(chan struct{}),
	}
	d.notifier = notifyMemory.New(d.start)
	return d
}

func (d *demoPipeline) Store() *datastoreMemory.Store { return d.store }

func (d *demoPipeline) Notifier() *notifyMemory.Notifier { return d.notifier }

func (d *demoPipeline) start(n feedback.Notification) {
	d.logger.Info("simulated analysis started", zap.String("record_id", n.RecordID))
	if d.step <= 0 {
		d.fill(n.RecordID)
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.fill(n.RecordID)
	}()
}

func (d *demoPipeline) fill(id string) {
	for _, s := range feedback.Sections() {
		if d.step > 0 {
			select {
			case <-d.done:
				return
			case <-time.After(d.step):
			}
		}
		sample := demoFeedback[s]
		if err := d.store.Apply(id, s, sample.text, sample.score); err != nil {
			d.logger.Warn("simulated write failed", zap.String("record_id", id), zap.Error(err))
			return
		}
		d.logger.Debug("simulated section written", zap.String("record_id", id), zap.String("section", string(s)))
	}
}

// Wait stops pending writes and waits for them to return.
func (d *demoPipeline) Wait() {
	d.once.Do(func() { close(d.done) })
	d.wg.Wait()
}
