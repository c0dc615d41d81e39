package handler

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/edvin/logistica/internal/core"
	"github.com/edvin/logistica/internal/model"
	"github.com/edvin/logistica/internal/workflow"
)

type mockController struct {
	mock.Mock
}

func (m *mockController) Trigger(ctx context.Context, req workflow.TriggerRequest) (*model.BackupJob, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BackupJob), args.Error(1)
}

func (m *mockController) Cancel(ctx context.Context, id int64, actor string) error {
	return m.Called(ctx, id, actor).Error(0)
}

func (m *mockController) Capacity(ctx context.Context) (core.Admission, error) {
	args := m.Called(ctx)
	return args.Get(0).(core.Admission), args.Error(1)
}

type mockJobStore struct {
	mock.Mock
}

func (m *mockJobStore) GetByID(ctx context.Context, id int64) (*model.BackupJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BackupJob), args.Error(1)
}

func (m *mockJobStore) List(ctx context.Context, f core.JobFilter) ([]model.BackupJob, int64, error) {
	args := m.Called(ctx, f)
	jobs, _ := args.Get(0).([]model.BackupJob)
	return jobs, args.Get(1).(int64), args.Error(2)
}

func (m *mockJobStore) Delete(ctx context.Context, id int64, actor string) error {
	return m.Called(ctx, id, actor).Error(0)
}

func (m *mockJobStore) Stats(ctx context.Context) (*model.BackupStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BackupStats), args.Error(1)
}

type mockFileLister struct {
	mock.Mock
}

func (m *mockFileLister) ListByJob(ctx context.Context, jobID int64) ([]model.BackupFile, error) {
	args := m.Called(ctx, jobID)
	files, _ := args.Get(0).([]model.BackupFile)
	return files, args.Error(1)
}

type mockActivityLister struct {
	mock.Mock
}

func (m *mockActivityLister) ListByJob(ctx context.Context, jobID int64) ([]model.ActivityLog, error) {
	args := m.Called(ctx, jobID)
	entries, _ := args.Get(0).([]model.ActivityLog)
	return entries, args.Error(1)
}

type mockScheduleStore struct {
	mock.Mock
}

func (m *mockScheduleStore) List(ctx context.Context) ([]model.BackupSchedule, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).([]model.BackupSchedule)
	return s, args.Error(1)
}

func (m *mockScheduleStore) Create(ctx context.Context, sc *model.BackupSchedule) error {
	return m.Called(ctx, sc).Error(0)
}

func (m *mockScheduleStore) SetEnabled(ctx context.Context, id int64, enabled bool) (*model.BackupSchedule, error) {
	args := m.Called(ctx, id, enabled)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BackupSchedule), args.Error(1)
}

type mockConfigLister struct {
	mock.Mock
}

func (m *mockConfigLister) List(ctx context.Context) ([]model.ConfigEntry, error) {
	args := m.Called(ctx)
	e, _ := args.Get(0).([]model.ConfigEntry)
	return e, args.Error(1)
}

type mockLogLister struct {
	mock.Mock
}

func (m *mockLogLister) ListByJob(ctx context.Context, jobID int64) ([]model.BackupLog, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.BackupLog), args.Error(1)
}
