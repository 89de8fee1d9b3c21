package model

import "time"

type JobStatus string

const (
	JOB_PENDING   JobStatus = "PENDING"
	JOB_RUNNING   JobStatus = "RUNNING"
	JOB_COMPLETED JobStatus = "COMPLETED"
	JOB_FAILED    JobStatus = "FAILED"
)

type JobPayload struct {
	SessionId       string `json:"sessionId"`
	StepExecutionId string `json:"stepExecutionId"`
	StepId          string `json:"stepId"`
	Attempt         int    `json:"attempt"`
	// Interrupted carries the error of a run that broke after the step was
	// started; the next run fails the step instead of invoking it again.
	Interrupted string `json:"interrupted,omitempty"`
}

type FlowJob struct {
	Id              string     `json:"id"`
	SessionId       string     `json:"sessionId"`
	StepExecutionId string     `json:"stepExecutionId"`
	Payload         []byte     `json:"payload"`
	Status          JobStatus  `json:"status"`
	ScheduledAt     time.Time  `json:"scheduledAt"`
	LockedBy        string     `json:"lockedBy,omitempty"`
	LockedAt        *time.Time `json:"lockedAt,omitempty"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}
