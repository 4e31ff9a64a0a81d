package ai

var NewLimitedHandle = newLimitedHandle
