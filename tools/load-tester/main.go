package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/V4T54L/survey-sentinel/internal/capture"
	"github.com/V4T54L/survey-sentinel/internal/domain"
)

func main() {
	targetURL := flag.String("url", "http://localhost:8080/api/analytics/capture", "Capture endpoint")
	surveyID := flag.String("survey", "load-test-survey", "Survey id attached to every session")
	sessions := flag.Int("c", 10, "Number of concurrent respondent sessions")
	duration := flag.Duration("d", 30*time.Second, "Duration of the load test")
	eps := flag.Int("eps", 1000, "Interaction events per second across all sessions")
	gzipBody := flag.Bool("gzip", true, "Compress capture batches")
	flag.Parse()

	log.Printf("Starting load test on %s", *targetURL)
	log.Printf("Sessions: %d, Duration: %s, EPS: %d", *sessions, *duration, *eps)

	var wg sync.WaitGroup
	var sent, dropped, completed atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*eps), 100)
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	sender := capture.NewHTTPSender(*targetURL, *gzipBody)

	for i := 0; i < *sessions; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(worker)))
			for ctx.Err() == nil {
				tr := capture.NewTracker(capture.Config{
					SurveyID:   *surveyID,
					SessionID:  uuid.NewString(),
					ResponseID: uuid.NewString(),
					Timezone:   "UTC",
				}, sender, quiet)
				runSession(ctx, tr, limiter, rng)

				stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = tr.Stop(stopCtx)
				stopCancel()

				sent.Add(tr.Sent())
				dropped.Add(tr.Dropped())
				completed.Add(1)
			}
		}(i)
	}

	wg.Wait()

	total := sent.Load() + dropped.Load()
	log.Println("Load test finished.")
	log.Printf("Sessions: %d", completed.Load())
	log.Printf("Events: %d (sent %d, dropped %d)", total, sent.Load(), dropped.Load())
	log.Printf("Actual EPS: %.2f", float64(total)/duration.Seconds())
}

// runSession walks one respondent through a short survey, then completes it.
func runSession(ctx context.Context, tr *capture.Tracker, limiter *rate.Limiter, rng *rand.Rand) {
	tr.Track(domain.EventSurveyStarted, &domain.LifecyclePayload{DeviceType: "desktop"}, capture.WithPage("p1"))

	questions := 3 + rng.Intn(5)
	for q := 0; q < questions; q++ {
		component := fmt.Sprintf("q%d", q+1)
		tr.Track(domain.EventQuestionViewed, nil, capture.WithComponent(component), capture.WithPage("p1"))

		for n := 0; n < 20+rng.Intn(40); n++ {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			switch rng.Intn(4) {
			case 0:
				tr.Scroll(0, float64(rng.Intn(2000)))
			case 1:
				tr.KeyDown("a")
				tr.KeyUp("a")
			default:
				tr.MouseMove(float64(rng.Intn(1920)), float64(rng.Intn(1080)))
			}
		}
		tr.QuestionAnswered(component, "p1")
	}

	tr.Complete([]string{"load-test"}, map[string]any{"userAgent": "load-tester"})
}
