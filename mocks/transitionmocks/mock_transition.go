// Package transitionmocks holds a hand-maintained gomock double for
// transition.Transition, written in the shape `mockgen` would generate,
// following the Chapter07/crawler mocks the rest of the teacher repo's
// tests build on.
package transitionmocks

import (
	reflect "reflect"

	gomock "github.com/golang/mock/gomock"

	transition "github.com/MarshallRawson/ntpnet/transition"
)

// MockTransition is a mock of the transition.Transition interface.
type MockTransition struct {
	ctrl     *gomock.Controller
	recorder *MockTransitionMockRecorder
}

// MockTransitionMockRecorder is the mock recorder for MockTransition.
type MockTransitionMockRecorder struct {
	mock *MockTransition
}

// NewMockTransition creates a new mock instance.
func NewMockTransition(ctrl *gomock.Controller) *MockTransition {
	mock := &MockTransition{ctrl: ctrl}
	mock.recorder = &MockTransitionMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockTransition) EXPECT() *MockTransitionMockRecorder {
	return m.recorder
}

// Description mocks base method.
func (m *MockTransition) Description() transition.Description {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Description")
	ret0, _ := ret[0].(transition.Description)
	return ret0
}

// Description indicates an expected call of Description.
func (mr *MockTransitionMockRecorder) Description() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Description", reflect.TypeOf((*MockTransition)(nil).Description))
}

// Call mocks base method.
func (m *MockTransition) Call(caseName string, condition int, in transition.InMap, out transition.OutMap) int {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Call", caseName, condition, in, out)
	ret0, _ := ret[0].(int)
	return ret0
}

// Call indicates an expected call of Call.
func (mr *MockTransitionMockRecorder) Call(caseName, condition, in, out interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Call", reflect.TypeOf((*MockTransition)(nil).Call), caseName, condition, in, out)
}
