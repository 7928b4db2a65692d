package worker

// The line protocol spoken with the worker process. Requests go to the
// worker's stdin; everything on its stdout is either a sentinel line or
// verbatim user output.
const (
	cmdLoadAndRun = "LOAD_AND_RUN"

	lineExecutionComplete = "EVCXR_EXECUTION_COMPLETE"
	linePanic             = "EVCXR_PANIC_NOTIFICATION"
	lineErrorOccurred     = "EVCXR_ERROR_OCCURRED"
	lineEndContent        = "EVCXR_END_CONTENT"

	prefixBeginContent        = "EVCXR_BEGIN_CONTENT "
	prefixVariableType        = "EVCXR_VARIABLE_TYPE:"
	prefixVariableChangedType = "EVCXR_VARIABLE_CHANGED_TYPE:"
	prefixInputRequest        = "EVCXR_INPUT_REQUEST:"
	prefixPasswordRequest     = "EVCXR_PASSWORD_REQUEST:"

	// runtimeEnvMarker tells the worker binary it was started by us rather
	// than invoked by hand.
	runtimeEnvMarker = "EVCXR_IS_RUNTIME=1"
)
