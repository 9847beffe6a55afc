package cmd

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/KanavDutta/windowfence/middleware"
	"github.com/KanavDutta/windowfence/pkg/windowfence"
)

type demoOptions struct {
	Goroutines int
	Quota      int
	Window     time.Duration
	Identity   string
}

var demoOpts = demoOptions{
	Goroutines: 10,
	Quota:      3,
	Window:     60 * time.Second,
	Identity:   "user-A",
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Race concurrent requests from one identity against a throttle",
	Long: `Start --goroutines goroutines that each make one request as --identity at the same
moment, print every decision, then make one more request after they all finish.
With the defaults exactly 3 of the 10 requests are admitted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		throttle, err := windowfence.NewThrottle(demoOpts.Quota, demoOpts.Window)
		if err != nil {
			return err
		}
		_, err = runDemo(cmd.OutOrStdout(), throttle, demoOpts)
		return err
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)

	demoCmd.Flags().IntVar(&demoOpts.Goroutines, "goroutines", demoOpts.Goroutines, "concurrent requests")
	demoCmd.Flags().IntVar(&demoOpts.Quota, "quota", demoOpts.Quota, "requests admitted per window")
	demoCmd.Flags().DurationVar(&demoOpts.Window, "window", demoOpts.Window, "window length")
	demoCmd.Flags().StringVar(&demoOpts.Identity, "identity", demoOpts.Identity, "identity every goroutine uses")
}

type demoAttempt struct {
	Worker   int
	Decision windowfence.Decision
}

type demoResult struct {
	Attempts []demoAttempt
	Admitted int
	Final    windowfence.Decision
}

// runDemo fires opts.Goroutines simultaneous checks, then a final one, and renders the outcome to out.
func runDemo(out io.Writer, throttle *windowfence.Throttle, opts demoOptions) (demoResult, error) {
	if opts.Goroutines <= 0 {
		return demoResult{}, fmt.Errorf("goroutines must be positive, got %d", opts.Goroutines)
	}

	attempts := make([]demoAttempt, opts.Goroutines)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			<-start
			attempts[worker] = demoAttempt{Worker: worker + 1, Decision: throttle.Check(opts.Identity)}
		}(i)
	}
	close(start)
	wg.Wait()

	// Admitted requests first, in the order the throttle counted them.
	sort.Slice(attempts, func(i, j int) bool {
		a, b := attempts[i].Decision, attempts[j].Decision
		if a.Allowed != b.Allowed {
			return a.Allowed
		}
		if a.Remaining != b.Remaining {
			return a.Remaining > b.Remaining
		}
		return attempts[i].Worker < attempts[j].Worker
	})

	res := demoResult{Attempts: attempts}
	clock := throttle.Clock()

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("%d concurrent requests as %q (quota %d per %s)",
		opts.Goroutines, opts.Identity, throttle.Quota(), throttle.Window()))
	t.AppendHeader(table.Row{"Goroutine", "Result", "Remaining", "Retry after"})
	for _, a := range attempts {
		result, retry := "ALLOWED", "-"
		if a.Decision.Allowed {
			res.Admitted++
		} else {
			result = "DENIED"
			retry = fmt.Sprintf("%ds", middleware.RetryAfterSeconds(a.Decision, clock))
		}
		t.AppendRow(table.Row{a.Worker, result, a.Decision.Remaining, retry})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d/%d admitted", res.Admitted, opts.Goroutines), "", ""})
	t.Render()

	res.Final = throttle.Check(opts.Identity)
	status := "ALLOWED"
	if !res.Final.Allowed {
		status = "DENIED"
	}
	fmt.Fprintf(out, "\nFinal check for %s: %s (remaining %d, window resets in %ds)\n",
		opts.Identity, status, res.Final.Remaining, middleware.RetryAfterSeconds(res.Final, clock))

	return res, nil
}
