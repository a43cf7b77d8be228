package service

// Request body schemas, one per operation shape. Draft 2020-12; unknown
// top-level properties are rejected so typos fail loudly instead of
// being ignored.

const schemaIntentsPublish = `{
  "type": "object",
  "properties": {
    "intent_id": {"type": "string"},
    "offer": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "properties": {
          "asset_id": {"type": "string", "minLength": 1},
          "kind": {"type": "string"}
        },
        "required": ["asset_id"],
        "additionalProperties": false
      }
    },
    "want": {
      "type": "object",
      "properties": {
        "asset_id": {"type": "string", "minLength": 1},
        "kind": {"type": "string"}
      },
      "required": ["asset_id"],
      "additionalProperties": false
    },
    "value_band": {
      "type": "object",
      "properties": {
        "min": {"type": "integer", "minimum": 0},
        "max": {"type": "integer", "minimum": 0}
      },
      "additionalProperties": false
    },
    "partner_id": {"type": "string"}
  },
  "required": ["offer", "want"],
  "additionalProperties": false
}`

const schemaIntentID = `{
  "type": "object",
  "properties": {
    "intent_id": {"type": "string", "minLength": 1}
  },
  "required": ["intent_id"],
  "additionalProperties": false
}`

const schemaIntentsList = `{
  "type": "object",
  "properties": {
    "status": {"type": "string", "enum": ["active", "matched", "cancelled", "consumed"]},
    "actor_fingerprint": {"type": "string"}
  },
  "additionalProperties": false
}`

const schemaMatchingRun = `{
  "type": "object",
  "properties": {
    "asset_values": {
      "type": "object",
      "additionalProperties": {"type": "integer", "minimum": 0}
    }
  },
  "additionalProperties": false
}`

const schemaProposalID = `{
  "type": "object",
  "properties": {
    "proposal_id": {"type": "string", "minLength": 1}
  },
  "required": ["proposal_id"],
  "additionalProperties": false
}`

const schemaProposalIngest = `{
  "type": "object",
  "properties": {
    "partner_id": {"type": "string", "minLength": 1},
    "proposal": {
      "type": "object",
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "participants": {"type": "array", "minItems": 2, "items": {"type": "object"}},
        "legs": {"type": "array", "minItems": 2, "items": {"type": "object"}},
        "score": {"type": "number"},
        "expires_at": {"type": "string"}
      },
      "required": ["id", "participants", "legs"]
    }
  },
  "required": ["partner_id", "proposal"],
  "additionalProperties": false
}`

const schemaCycleID = `{
  "type": "object",
  "properties": {
    "cycle_id": {"type": "string", "minLength": 1}
  },
  "required": ["cycle_id"],
  "additionalProperties": false
}`

const schemaSettlementStart = `{
  "type": "object",
  "properties": {
    "cycle_id": {"type": "string", "minLength": 1},
    "deposit_window_seconds": {"type": "integer", "minimum": 1}
  },
  "required": ["cycle_id"],
  "additionalProperties": false
}`

const schemaSettlementDeposit = `{
  "type": "object",
  "properties": {
    "cycle_id": {"type": "string", "minLength": 1},
    "intent_id": {"type": "string", "minLength": 1},
    "deposit_ref": {"type": "string", "minLength": 1}
  },
  "required": ["cycle_id", "intent_id", "deposit_ref"],
  "additionalProperties": false
}`

const schemaSettlementFail = `{
  "type": "object",
  "properties": {
    "cycle_id": {"type": "string", "minLength": 1},
    "reason": {"type": "string"}
  },
  "required": ["cycle_id"],
  "additionalProperties": false
}`

const schemaVaultDeposit = `{
  "type": "object",
  "properties": {
    "vault_id": {"type": "string", "minLength": 1},
    "asset_id": {"type": "string", "minLength": 1}
  },
  "required": ["vault_id", "asset_id"],
  "additionalProperties": false
}`

const schemaVaultReserve = `{
  "type": "object",
  "properties": {
    "holding_id": {"type": "string", "minLength": 1},
    "cycle_id": {"type": "string", "minLength": 1}
  },
  "required": ["holding_id", "cycle_id"],
  "additionalProperties": false
}`

const schemaHoldingID = `{
  "type": "object",
  "properties": {
    "holding_id": {"type": "string", "minLength": 1}
  },
  "required": ["holding_id"],
  "additionalProperties": false
}`

const schemaVaultList = `{
  "type": "object",
  "properties": {
    "vault_id": {"type": "string"},
    "owner_fingerprint": {"type": "string"},
    "status": {"type": "string", "enum": ["in_custody", "reserved", "released", "withdrawn"]}
  },
  "additionalProperties": false
}`

const schemaVaultSnapshot = `{
  "type": "object",
  "properties": {
    "vault_id": {"type": "string", "minLength": 1}
  },
  "required": ["vault_id"],
  "additionalProperties": false
}`

const schemaVaultProve = `{
  "type": "object",
  "properties": {
    "snapshot_id": {"type": "string", "minLength": 1},
    "holding_id": {"type": "string", "minLength": 1}
  },
  "required": ["snapshot_id", "holding_id"],
  "additionalProperties": false
}`

const schemaExportQuery = `{
  "type": "object",
  "properties": {
    "filter": {"type": "object"},
    "cursor_after": {"type": "string"},
    "attestation_after": {"type": "string"},
    "checkpoint_after": {"type": "string"},
    "limit": {"type": "integer", "minimum": 1, "maximum": 1000}
  },
  "additionalProperties": false
}`

const schemaReceiptsGet = `{
  "type": "object",
  "properties": {
    "receipt_id": {"type": "string"},
    "cycle_id": {"type": "string"}
  },
  "additionalProperties": false
}`

const schemaEventsIngest = `{
  "type": "object",
  "properties": {
    "envelopes": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "object"}
    }
  },
  "required": ["envelopes"],
  "additionalProperties": false
}`

const schemaDelegationIssue = `{
  "type": "object",
  "properties": {
    "delegation_id": {"type": "string"},
    "principal_actor": {
      "type": "object",
      "properties": {
        "type": {"type": "string"},
        "id": {"type": "string", "minLength": 1}
      },
      "required": ["type", "id"],
      "additionalProperties": false
    },
    "delegate_actor": {
      "type": "object",
      "properties": {
        "type": {"type": "string"},
        "id": {"type": "string", "minLength": 1}
      },
      "required": ["type", "id"],
      "additionalProperties": false
    },
    "scopes": {"type": "array", "minItems": 1, "items": {"type": "string"}},
    "not_before": {"type": "string"},
    "expires_at": {"type": "string"},
    "constraint": {"type": "string"}
  },
  "required": ["principal_actor", "delegate_actor", "scopes", "expires_at"],
  "additionalProperties": false
}`

const schemaDelegationToken = `{
  "type": "object",
  "properties": {
    "token": {"type": "string", "minLength": 1}
  },
  "required": ["token"],
  "additionalProperties": false
}`

const schemaDelegationRevoke = `{
  "type": "object",
  "properties": {
    "delegation_id": {"type": "string", "minLength": 1}
  },
  "required": ["delegation_id"],
  "additionalProperties": false
}`

const schemaKeyID = `{
  "type": "object",
  "properties": {
    "key_id": {"type": "string", "minLength": 1}
  },
  "required": ["key_id"],
  "additionalProperties": false
}`

const schemaPartnerEnroll = `{
  "type": "object",
  "properties": {
    "partner_id": {"type": "string", "minLength": 1},
    "tier": {"type": "string"}
  },
  "required": ["partner_id"],
  "additionalProperties": false
}`

const schemaPartnerID = `{
  "type": "object",
  "properties": {
    "partner_id": {"type": "string", "minLength": 1}
  },
  "required": ["partner_id"],
  "additionalProperties": false
}`

const schemaRolloutUpsert = `{
  "type": "object",
  "properties": {
    "partner_id": {"type": "string", "minLength": 1},
    "phase": {"type": "string", "enum": ["disabled", "shadow", "enforced"]},
    "freeze": {"type": "boolean"}
  },
  "required": ["partner_id", "phase"],
  "additionalProperties": false
}`

const schemaUsageRecord = `{
  "type": "object",
  "properties": {
    "partner_id": {"type": "string", "minLength": 1},
    "metric": {"type": "string", "minLength": 1},
    "quantity": {"type": "integer", "minimum": 1}
  },
  "required": ["partner_id", "metric", "quantity"],
  "additionalProperties": false
}`

const schemaCheckpointsList = `{
  "type": "object",
  "properties": {
    "kind": {"type": "string"}
  },
  "additionalProperties": false
}`
