package outbox

// SchemaCatalogEntry maps an event type to its JSON schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	"integration.activity_imported": {
		Schema: activityImportedSchema,
	},
	"integration.sync_completed": {
		Schema: syncCompletedSchema,
	},
}

const activityImportedSchema = `{
  "type": "object",
  "title": "ActivityImported",
  "properties": {
    "activity_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "user_id": {"type": "string"},
    "provider": {"type": "string"},
    "external_id": {"type": "string"},
    "activity_type": {"type": "string"},
    "started_at": {"type": "string", "format": "date-time"},
    "duration_sec": {"type": "integer"},
    "distance_km": {"type": "number"}
  },
  "required": ["activity_id", "tenant_id", "user_id", "provider", "external_id", "activity_type", "started_at", "duration_sec"],
  "additionalProperties": false
}`

const syncCompletedSchema = `{
  "type": "object",
  "title": "SyncCompleted",
  "properties": {
    "audit_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "user_id": {"type": "string"},
    "provider": {"type": "string"},
    "status": {"type": "string"},
    "synced_count": {"type": "integer"},
    "skipped_count": {"type": "integer"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["audit_id", "tenant_id", "user_id", "provider", "status", "synced_count", "skipped_count", "occurred_at"],
  "additionalProperties": false
}`
