package tasks

// TaskSchedulerInterface is what the application needs from the background
// scheduler.
//
//	scheduler := NewScheduler(pipeline, db, cfg, logger)
//	scheduler.Start()
//	defer scheduler.Stop()
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
}
