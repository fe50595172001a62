package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"hyperlapse-desktop/internal/config"
	"hyperlapse-desktop/internal/export"
	"hyperlapse-desktop/internal/hyperlapse"
	"hyperlapse-desktop/internal/render"
	"hyperlapse-desktop/internal/sequence"
	"hyperlapse-desktop/internal/taskqueue"
)

// ============================================================================
// Task Queue API Methods
// ============================================================================

// AddRenderTask queues a plan for background rendering.
func (a *App) AddRenderTask(name string, plan config.Plan, priority int) (string, error) {
	if err := plan.Validate(); err != nil {
		return "", err
	}
	task := taskqueue.NewRenderTask(name, plan)
	task.Priority = priority
	if err := a.taskQueue.AddTask(task); err != nil {
		return "", err
	}
	return task.ID, nil
}

// AddRenderTaskFromFile queues a YAML plan file.
func (a *App) AddRenderTaskFromFile(path string, priority int) (string, error) {
	plan, err := config.LoadPlan(path)
	if err != nil {
		return "", err
	}
	return a.AddRenderTask("", *plan, priority)
}

// GetTaskQueue returns all tasks in the queue
func (a *App) GetTaskQueue() []*taskqueue.RenderTask {
	return a.taskQueue.GetAllTasks()
}

// GetTask returns a single task by ID
func (a *App) GetTask(id string) (*taskqueue.RenderTask, error) {
	return a.taskQueue.GetTask(id)
}

// DeleteTask removes a task from the queue
func (a *App) DeleteTask(id string) error {
	return a.taskQueue.DeleteTask(id)
}

// StartTaskQueue begins processing tasks
func (a *App) StartTaskQueue() error {
	return a.taskQueue.StartQueue()
}

// StopTaskQueue stops the queue immediately
func (a *App) StopTaskQueue() {
	a.taskQueue.StopQueue()
}

// CancelTask cancels a running or pending task
func (a *App) CancelTask(id string) error {
	return a.taskQueue.CancelTask(id)
}

// GetTaskQueueStatus returns the current queue status
func (a *App) GetTaskQueueStatus() taskqueue.QueueStatus {
	return a.taskQueue.GetStatus()
}

// ClearCompletedTasks removes all completed/failed/cancelled tasks
func (a *App) ClearCompletedTasks() {
	a.taskQueue.ClearCompleted()
}

// ExecuteRenderTask implements the TaskExecutor interface. Each task runs in
// its own headless session so the interactive session keeps its frames.
func (a *App) ExecuteRenderTask(ctx context.Context, task *taskqueue.RenderTask, progressChan chan<- taskqueue.TaskProgress) error {
	log.Printf("[TaskQueue] Executing task: %s - %s", task.ID, task.Name)

	plan := task.Plan
	outputPath := plan.Output
	if outputPath == "" {
		outputPath = filepath.Join(a.GetOutputPath(), task.ID)
	}
	if err := os.MkdirAll(outputPath, 0755); err != nil {
		return fmt.Errorf("failed to create task output directory: %w", err)
	}

	send := func(p taskqueue.TaskProgress) {
		if p.Total > 0 {
			p.Percent = p.Current * 100 / p.Total
		}
		select {
		case progressChan <- p:
		default:
		}
	}

	events := hyperlapse.Events{
		OnRouteProgress: func(p sequence.Progress) {
			send(taskqueue.TaskProgress{Phase: taskqueue.PhaseGenerating, Current: p.Sample + 1, Total: p.Samples})
		},
		OnLoadProgress: func(p hyperlapse.LoadProgress) {
			send(taskqueue.TaskProgress{Phase: taskqueue.PhaseExporting, Current: p.Position + 1, Total: p.Length})
		},
		OnError: func(err error) {
			log.Printf("[TaskQueue] %s: %v", task.ID, err)
		},
	}

	surface := render.NewOffscreenSurface(plan.Session.Width, plan.Session.Height, plan.Session.FOV)
	sink := export.FileSink{Root: outputPath}
	session, err := a.newSession(plan.Session, surface, sink, events)
	if err != nil {
		return err
	}

	send(taskqueue.TaskProgress{Phase: taskqueue.PhaseRouting})
	req, err := session.ApplyPlan(ctx, &plan)
	if err != nil {
		return err
	}

	// Cancelling the task stops the session at a step boundary; the run
	// itself is not bound to ctx so frames already in flight are saved.
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, session.Cancel)
	defer stop()

	res, err := session.Run(context.WithoutCancel(ctx), req)
	if err != nil {
		return err
	}
	if res.Label != "" {
		if data, err := surface.EncodeJPEG(plan.Session.JPEGQuality); err == nil {
			if err := sink.SavePreview(context.WithoutCancel(ctx), data, res.Label); err != nil {
				log.Printf("[TaskQueue] %s: failed to save preview: %v", task.ID, err)
			}
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	task.Label = res.Label
	task.OutputPath = filepath.Join(outputPath, res.Label)
	a.TrackEvent("render_task_complete", map[string]interface{}{
		"frames": res.Frames,
		"saved":  res.Saved,
	})
	return nil
}

// RetryTask re-queues a failed or cancelled task
func (a *App) RetryTask(id string) error {
	return a.taskQueue.RetryTask(id)
}
