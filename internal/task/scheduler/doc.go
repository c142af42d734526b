// Package scheduler registers recurring jobs (cron, daily, fixed
// interval) and fires them into the task runner. It owns the halted
// flag: after HaltAll, every registered definition survives but no
// trigger executes until Start runs again.
package scheduler
