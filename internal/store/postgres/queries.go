package postgres

const queryListTriggerDefinitions = `
SELECT id, cron_expression, project_id, pipeline_id, enabled
FROM trigger_definitions
ORDER BY id
LIMIT $1 OFFSET $2
`

const queryInsertExecution = `
INSERT INTO executions (
    event_id, trigger_id, project_id, pipeline_id, status, error,
    scheduled_at, started_at, finished_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const queryListExecutions = `
SELECT
    event_id, trigger_id, project_id, pipeline_id, status, error,
    scheduled_at, started_at, finished_at
FROM executions
WHERE trigger_id = $1
ORDER BY finished_at DESC, event_id
LIMIT $2
`
