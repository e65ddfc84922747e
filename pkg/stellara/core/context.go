package core

type ctxKey string

// CtxKeyWorkerId carries the engine worker number in workflow execution contexts.
const CtxKeyWorkerId ctxKey = ctxKey("workerId")
