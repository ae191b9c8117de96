package common

// Events
const ROUND_COMPLETED_EVENT_TYPE = "RoundCompleted"
const RUN_FINISHED_EVENT_TYPE = "RunFinished"
const CLIENT_POOL_CHANGE_EVENT_TYPE = "ClientPoolChanged"

// Reliability
const NEUTRAL_RELIABILITY_SCORE = 0.5

// Privacy
const DEFAULT_PRIVACY_DELTA = 1e-5

// Delta application policies
const DELTA_POLICY_ADDITIVE = "additive"
const DELTA_POLICY_REPLACE = "replace"

// Quorum failure policies
const QUORUM_POLICY_ABORT = "abort"
const QUORUM_POLICY_RETRY = "retry"
