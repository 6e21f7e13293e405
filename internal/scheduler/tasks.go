package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskStuckDealScan = "deals.stuck.scan"

const TaskDwellRefresh = "deals.dwell.refresh"

type StuckDealScanPayload struct {
	PipelineID string `json:"pipelineId"`
}

type DwellRefreshPayload struct {
	PipelineID string `json:"pipelineId"`
}

func NewStuckDealScanTask(payload StuckDealScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStuckDealScan, data), nil
}

func ParseStuckDealScanPayload(task *asynq.Task) (StuckDealScanPayload, error) {
	var payload StuckDealScanPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return StuckDealScanPayload{}, err
	}
	return payload, nil
}

func NewDwellRefreshTask(payload DwellRefreshPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDwellRefresh, data), nil
}

func ParseDwellRefreshPayload(task *asynq.Task) (DwellRefreshPayload, error) {
	var payload DwellRefreshPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return DwellRefreshPayload{}, err
	}
	return payload, nil
}
