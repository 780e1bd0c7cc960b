package api

const transactSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["idempotency_key", "amount", "kind"],
  "properties": {
    "idempotency_key": {"type": "string", "minLength": 1, "maxLength": 255},
    "amount": {"type": "number", "exclusiveMinimum": 0},
    "kind": {"type": "string", "enum": ["CREDIT", "DEBIT", "credit", "debit"]}
  }
}`
