package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"kiln/internal/buildpipeline"
	"kiln/internal/ui"
)

type buildOutcome struct {
	results []buildpipeline.BuildResult
	err     error
}

// runBuildsWithUI builds every request while a progress view renders their
// events. Build errors take precedence over UI errors.
func runBuildsWithUI(ctx context.Context, title string, reqs []*buildpipeline.BuildRequest, parallel int) ([]buildpipeline.BuildResult, error) {
	events := make(chan buildpipeline.Event, 256)
	outcomeCh := make(chan buildOutcome, 1)

	names := make([]string, 0, len(reqs))
	withSink := make([]*buildpipeline.BuildRequest, 0, len(reqs))
	for _, req := range reqs {
		reqCopy := *req
		reqCopy.Progress = buildpipeline.ChannelSink{Ch: events}
		withSink = append(withSink, &reqCopy)
		names = append(names, req.Descriptor.Name)
	}

	go func() {
		res, err := buildpipeline.BuildAll(ctx, withSink, parallel)
		outcomeCh <- buildOutcome{results: res, err: err}
		close(events)
	}()

	model := ui.NewProgressModel(title, names, buildpipeline.StageImage, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	outcome := <-outcomeCh
	if outcome.err != nil {
		return outcome.results, outcome.err
	}
	return outcome.results, uiErr
}
