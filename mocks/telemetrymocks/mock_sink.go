// Package telemetrymocks holds a hand-maintained gomock double for
// telemetry.Sink, used by cluster_test.go and monitor_test.go to assert
// which Datum variants are emitted under which Options flags.
package telemetrymocks

import (
	reflect "reflect"

	gomock "github.com/golang/mock/gomock"

	telemetry "github.com/MarshallRawson/ntpnet/telemetry"
)

// MockSink is a mock of the telemetry.Sink interface.
type MockSink struct {
	ctrl     *gomock.Controller
	recorder *MockSinkMockRecorder
}

// MockSinkMockRecorder is the mock recorder for MockSink.
type MockSinkMockRecorder struct {
	mock *MockSink
}

// NewMockSink creates a new mock instance.
func NewMockSink(ctrl *gomock.Controller) *MockSink {
	mock := &MockSink{ctrl: ctrl}
	mock.recorder = &MockSinkMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockSink) EXPECT() *MockSinkMockRecorder {
	return m.recorder
}

// Emit mocks base method.
func (m *MockSink) Emit(d telemetry.Datum) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "Emit", d)
}

// Emit indicates an expected call of Emit.
func (mr *MockSinkMockRecorder) Emit(d interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Emit", reflect.TypeOf((*MockSink)(nil).Emit), d)
}
