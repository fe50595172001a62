package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/lo"
)

// QueueState represents the persistent queue state
type QueueState struct {
	TaskOrder []string `json:"taskOrder"`
}

// QueueStatus represents the current queue status for events
type QueueStatus struct {
	IsRunning      bool   `json:"isRunning"`
	CurrentTaskID  string `json:"currentTaskID"`
	TotalTasks     int    `json:"totalTasks"`
	CompletedTasks int    `json:"completedTasks"`
	PendingTasks   int    `json:"pendingTasks"`
}

// TaskExecutor runs a render task, reporting progress on the channel until
// it returns. ctx is cancelled when the task is cancelled or the queue stops.
type TaskExecutor interface {
	ExecuteRenderTask(ctx context.Context, task *RenderTask, progress chan<- TaskProgress) error
}

// Callbacks receive queue events. Any may be nil.
type Callbacks struct {
	OnQueueUpdate  func(status QueueStatus)
	OnTaskProgress func(taskID string, progress TaskProgress)
	OnTaskComplete func(taskID string, success bool, err error)
	OnNotification func(title, message, notifType string)
}

// QueueManager runs render tasks one at a time and persists them across
// restarts.
type QueueManager struct {
	tasks       map[string]*RenderTask
	taskOrder   []string
	mu          sync.RWMutex
	storagePath string

	isRunning     bool
	currentTask   *RenderTask
	cancelCurrent context.CancelFunc

	executor  TaskExecutor
	callbacks Callbacks

	workerWg sync.WaitGroup
}

// NewQueueManager creates a queue stored under storagePath.
func NewQueueManager(storagePath string) *QueueManager {
	qm := &QueueManager{
		tasks:       make(map[string]*RenderTask),
		storagePath: storagePath,
	}

	if err := qm.loadState(); err != nil {
		log.Printf("[TaskQueue] Failed to load queue state: %v", err)
	}

	return qm
}

// SetExecutor sets the task executor
func (qm *QueueManager) SetExecutor(executor TaskExecutor) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	qm.executor = executor
}

// SetCallbacks sets event callbacks
func (qm *QueueManager) SetCallbacks(cb Callbacks) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	qm.callbacks = cb
}

func (qm *QueueManager) getStoragePaths() (queueFile, tasksDir string) {
	queueFile = filepath.Join(qm.storagePath, "queue.json")
	tasksDir = filepath.Join(qm.storagePath, "tasks")
	return
}

// loadState restores tasks from disk. Tasks that were running when the app
// exited go back to pending.
func (qm *QueueManager) loadState() error {
	queueFile, tasksDir := qm.getStoragePaths()

	if data, err := os.ReadFile(queueFile); err == nil {
		var state QueueState
		if err := json.Unmarshal(data, &state); err == nil {
			qm.taskOrder = state.TaskOrder
		}
	}

	if entries, err := os.ReadDir(tasksDir); err == nil {
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
				continue
			}
			task, err := LoadFromFile(filepath.Join(tasksDir, entry.Name()))
			if err != nil {
				log.Printf("[TaskQueue] Failed to load task %s: %v", entry.Name(), err)
				continue
			}
			if task.Status == TaskStatusRunning {
				task.Status = TaskStatusPending
			}
			qm.tasks[task.ID] = task
		}
	}

	seen := make(map[string]bool, len(qm.tasks))
	validOrder := make([]string, 0, len(qm.tasks))
	for _, id := range qm.taskOrder {
		if _, exists := qm.tasks[id]; exists && !seen[id] {
			validOrder = append(validOrder, id)
			seen[id] = true
		}
	}
	for id := range qm.tasks {
		if !seen[id] {
			validOrder = append(validOrder, id)
		}
	}
	qm.taskOrder = validOrder

	log.Printf("[TaskQueue] Loaded %d tasks from disk", len(qm.tasks))
	return nil
}

// saveState writes the queue order. The caller holds qm.mu.
func (qm *QueueManager) saveState() error {
	queueFile, _ := qm.getStoragePaths()

	if err := os.MkdirAll(filepath.Dir(queueFile), 0755); err != nil {
		return fmt.Errorf("failed to create queue directory: %w", err)
	}

	data, err := json.MarshalIndent(QueueState{TaskOrder: qm.taskOrder}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal queue state: %w", err)
	}

	tmp := queueFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write queue state: %w", err)
	}
	if err := os.Rename(tmp, queueFile); err != nil {
		return fmt.Errorf("failed to rename queue state: %w", err)
	}
	return nil
}

func (qm *QueueManager) saveTask(task *RenderTask) {
	_, tasksDir := qm.getStoragePaths()
	if err := task.SaveToFile(tasksDir); err != nil {
		log.Printf("[TaskQueue] %v", err)
	}
}

// AddTask appends a task to the queue
func (qm *QueueManager) AddTask(task *RenderTask) error {
	qm.mu.Lock()

	if task.ID == "" {
		task.ID = NewRenderTask(task.Name, task.Plan).ID
	}
	if _, exists := qm.tasks[task.ID]; exists {
		qm.mu.Unlock()
		return fmt.Errorf("task already queued: %s", task.ID)
	}

	qm.tasks[task.ID] = task
	qm.taskOrder = append(qm.taskOrder, task.ID)

	_, tasksDir := qm.getStoragePaths()
	if err := task.SaveToFile(tasksDir); err != nil {
		qm.mu.Unlock()
		return err
	}
	if err := qm.saveState(); err != nil {
		qm.mu.Unlock()
		return err
	}
	qm.mu.Unlock()

	qm.emitQueueUpdate()
	log.Printf("[TaskQueue] Added task: %s (%s)", task.Name, task.ID)
	return nil
}

// GetTask returns a copy of a task by ID
func (qm *QueueManager) GetTask(id string) (*RenderTask, error) {
	qm.mu.RLock()
	defer qm.mu.RUnlock()

	task, exists := qm.tasks[id]
	if !exists {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	c := *task
	return &c, nil
}

// GetAllTasks returns copies of all tasks in queue order
func (qm *QueueManager) GetAllTasks() []*RenderTask {
	qm.mu.RLock()
	defer qm.mu.RUnlock()

	result := make([]*RenderTask, 0, len(qm.taskOrder))
	for _, id := range qm.taskOrder {
		if task, exists := qm.tasks[id]; exists {
			c := *task
			result = append(result, &c)
		}
	}
	return result
}

// DeleteTask removes a finished or pending task
func (qm *QueueManager) DeleteTask(id string) error {
	qm.mu.Lock()

	task, exists := qm.tasks[id]
	if !exists {
		qm.mu.Unlock()
		return fmt.Errorf("task not found: %s", id)
	}
	if task.Status == TaskStatusRunning {
		qm.mu.Unlock()
		return fmt.Errorf("cannot delete running task - cancel it first")
	}

	qm.removeLocked(id)
	qm.saveState()
	qm.mu.Unlock()

	qm.emitQueueUpdate()
	log.Printf("[TaskQueue] Deleted task: %s", id)
	return nil
}

func (qm *QueueManager) removeLocked(id string) {
	qm.taskOrder = lo.Without(qm.taskOrder, id)

	_, tasksDir := qm.getStoragePaths()
	qm.tasks[id].DeleteFile(tasksDir)
	delete(qm.tasks, id)
}

// CancelTask cancels a running or pending task
func (qm *QueueManager) CancelTask(id string) error {
	qm.mu.Lock()

	task, exists := qm.tasks[id]
	if !exists {
		qm.mu.Unlock()
		return fmt.Errorf("task not found: %s", id)
	}
	if task.Status.Finished() {
		qm.mu.Unlock()
		return fmt.Errorf("task already finished")
	}

	if qm.currentTask != nil && qm.currentTask.ID == id && qm.cancelCurrent != nil {
		// the worker marks it cancelled once the executor returns
		qm.cancelCurrent()
	} else {
		task.MarkCancelled()
		qm.saveTask(task)
	}
	qm.mu.Unlock()

	qm.emitQueueUpdate()
	log.Printf("[TaskQueue] Cancelled task: %s", id)
	return nil
}

// RetryTask puts a failed or cancelled task back to pending. The next run
// writes a new label so earlier frames are kept.
func (qm *QueueManager) RetryTask(id string) error {
	qm.mu.Lock()

	task, exists := qm.tasks[id]
	if !exists {
		qm.mu.Unlock()
		return fmt.Errorf("task not found: %s", id)
	}
	if task.Status != TaskStatusFailed && task.Status != TaskStatusCancelled {
		qm.mu.Unlock()
		return fmt.Errorf("only failed or cancelled tasks can be retried, task is %s", task.Status)
	}

	task.Reset()
	qm.saveTask(task)
	qm.mu.Unlock()

	qm.emitQueueUpdate()
	log.Printf("[TaskQueue] Retrying task: %s", id)
	return nil
}

// StartQueue begins processing pending tasks
func (qm *QueueManager) StartQueue() error {
	qm.mu.Lock()
	if qm.isRunning {
		qm.mu.Unlock()
		return fmt.Errorf("queue is already running")
	}
	if qm.executor == nil {
		qm.mu.Unlock()
		return fmt.Errorf("no executor configured")
	}
	qm.isRunning = true
	qm.workerWg.Add(1)
	qm.mu.Unlock()

	go qm.worker()

	qm.emitQueueUpdate()
	log.Printf("[TaskQueue] Queue started")
	return nil
}

// StopQueue stops processing and cancels the running task
func (qm *QueueManager) StopQueue() {
	qm.mu.Lock()
	qm.isRunning = false
	if qm.cancelCurrent != nil {
		qm.cancelCurrent()
	}
	qm.mu.Unlock()

	qm.emitQueueUpdate()
	log.Printf("[TaskQueue] Queue stopped")
}

// GetStatus returns the current queue status
func (qm *QueueManager) GetStatus() QueueStatus {
	qm.mu.RLock()
	defer qm.mu.RUnlock()
	return qm.statusLocked()
}

func (qm *QueueManager) statusLocked() QueueStatus {
	status := QueueStatus{IsRunning: qm.isRunning, TotalTasks: len(qm.tasks)}
	for _, task := range qm.tasks {
		switch task.Status {
		case TaskStatusCompleted:
			status.CompletedTasks++
		case TaskStatusPending:
			status.PendingTasks++
		}
	}
	if qm.currentTask != nil {
		status.CurrentTaskID = qm.currentTask.ID
	}
	return status
}

// nextLocked picks the highest-priority pending task, earliest first.
func (qm *QueueManager) nextLocked() *RenderTask {
	var next *RenderTask
	for _, id := range qm.taskOrder {
		task := qm.tasks[id]
		if task.Status == TaskStatusPending && (next == nil || task.Priority > next.Priority) {
			next = task
		}
	}
	return next
}

// worker processes tasks until the queue is empty or stopped
func (qm *QueueManager) worker() {
	defer qm.workerWg.Done()
	log.Printf("[TaskQueue] Worker started")
	defer log.Printf("[TaskQueue] Worker stopped")

	for {
		qm.mu.Lock()
		if !qm.isRunning {
			qm.mu.Unlock()
			return
		}

		task := qm.nextLocked()
		if task == nil {
			qm.isRunning = false
			completed := qm.statusLocked().CompletedTasks
			notify := qm.callbacks.OnNotification
			qm.mu.Unlock()

			if notify != nil {
				notify("Render Queue Complete", fmt.Sprintf("%d tasks finished", completed), "success")
			}
			qm.emitQueueUpdate()
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		qm.currentTask = task
		qm.cancelCurrent = cancel
		task.MarkStarted()
		qm.saveTask(task)
		executor := qm.executor
		cb := qm.callbacks
		qm.mu.Unlock()

		qm.emitQueueUpdate()
		log.Printf("[TaskQueue] Executing task: %s (%s)", task.Name, task.ID)

		progressChan := make(chan TaskProgress, 10)
		progressDone := make(chan struct{})
		go func() {
			defer close(progressDone)
			for progress := range progressChan {
				qm.mu.Lock()
				task.UpdateProgress(progress)
				snapshot := task.Progress
				qm.saveTask(task)
				qm.mu.Unlock()

				if cb.OnTaskProgress != nil {
					cb.OnTaskProgress(task.ID, snapshot)
				}
			}
		}()

		execErr := executor.ExecuteRenderTask(ctx, task, progressChan)
		close(progressChan)
		<-progressDone

		qm.mu.Lock()
		switch {
		case execErr != nil && ctx.Err() != nil:
			task.MarkCancelled()
			log.Printf("[TaskQueue] Task cancelled: %s", task.ID)
		case execErr != nil:
			task.MarkFailed(execErr)
			log.Printf("[TaskQueue] Task failed: %s - %v", task.ID, execErr)
		default:
			task.MarkCompleted()
			log.Printf("[TaskQueue] Task completed: %s", task.ID)
		}
		qm.saveTask(task)
		qm.currentTask = nil
		qm.cancelCurrent = nil
		qm.mu.Unlock()
		cancel()

		if execErr != nil && ctx.Err() == nil && cb.OnNotification != nil {
			cb.OnNotification("Render Failed", fmt.Sprintf("Task '%s' failed: %v", task.Name, execErr), "error")
		}
		if cb.OnTaskComplete != nil {
			cb.OnTaskComplete(task.ID, execErr == nil, execErr)
		}
		qm.emitQueueUpdate()
	}
}

func (qm *QueueManager) emitQueueUpdate() {
	qm.mu.RLock()
	onUpdate := qm.callbacks.OnQueueUpdate
	status := qm.statusLocked()
	qm.mu.RUnlock()
	if onUpdate != nil {
		onUpdate(status)
	}
}

// ClearCompleted removes all finished tasks
func (qm *QueueManager) ClearCompleted() {
	qm.mu.Lock()
	finished := lo.Filter(qm.taskOrder, func(id string, _ int) bool {
		return qm.tasks[id].Status.Finished()
	})
	for _, id := range finished {
		qm.removeLocked(id)
	}
	qm.saveState()
	qm.mu.Unlock()

	qm.emitQueueUpdate()
	log.Printf("[TaskQueue] Cleared %d finished tasks", len(finished))
}

// Close stops the queue and waits for the worker to exit
func (qm *QueueManager) Close() {
	qm.StopQueue()
	qm.workerWg.Wait()
}
