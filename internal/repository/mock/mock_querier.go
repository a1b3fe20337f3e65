// Package mock provides a gomock-generated-style MockQuerier for
// internal/repository/db.Querier, following this corpus's
// go.uber.org/mock/gomock convention (see e.g.
// apps/privacy-service/internal/repository/mock).
package mock

import (
	"context"
	reflect "reflect"

	gomock "go.uber.org/mock/gomock"

	db "github.com/arc-self/apps/adrelay-service/internal/repository/db"
)

// MockQuerier is a mock of the db.Querier interface.
type MockQuerier struct {
	ctrl     *gomock.Controller
	recorder *MockQuerierMockRecorder
}

// MockQuerierMockRecorder is the mock recorder for MockQuerier.
type MockQuerierMockRecorder struct {
	mock *MockQuerier
}

// NewMockQuerier creates a new mock instance.
func NewMockQuerier(ctrl *gomock.Controller) *MockQuerier {
	mock := &MockQuerier{ctrl: ctrl}
	mock.recorder = &MockQuerierMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockQuerier) EXPECT() *MockQuerierMockRecorder {
	return m.recorder
}

// InsertRequestLog mocks base method.
func (m *MockQuerier) InsertRequestLog(ctx context.Context, params db.InsertRequestLogParams) (db.RequestLog, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "InsertRequestLog", ctx, params)
	ret0, _ := ret[0].(db.RequestLog)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// InsertRequestLog indicates an expected call.
func (mr *MockQuerierMockRecorder) InsertRequestLog(ctx, params interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "InsertRequestLog", reflect.TypeOf((*MockQuerier)(nil).InsertRequestLog), ctx, params)
}

// FindRequestLogByRid mocks base method.
func (m *MockQuerier) FindRequestLogByRid(ctx context.Context, rid string) (db.RequestLog, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "FindRequestLogByRid", ctx, rid)
	ret0, _ := ret[0].(db.RequestLog)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// FindRequestLogByRid indicates an expected call.
func (mr *MockQuerierMockRecorder) FindRequestLogByRid(ctx, rid interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "FindRequestLogByRid", reflect.TypeOf((*MockQuerier)(nil).FindRequestLogByRid), ctx, rid)
}

// UpdateRequestLogByRid mocks base method.
func (m *MockQuerier) UpdateRequestLogByRid(ctx context.Context, params db.UpdateRequestLogParams) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "UpdateRequestLogByRid", ctx, params)
	ret0, _ := ret[0].(error)
	return ret0
}

// UpdateRequestLogByRid indicates an expected call.
func (mr *MockQuerierMockRecorder) UpdateRequestLogByRid(ctx, params interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "UpdateRequestLogByRid", reflect.TypeOf((*MockQuerier)(nil).UpdateRequestLogByRid), ctx, params)
}
