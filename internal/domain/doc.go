// Package domain holds the records the session engine moves between the
// remote service, the local cache, and the wizard: sessions, client
// profiles, case records, questionnaire definitions, and assignments.
//
// Types here carry no persistence or transport logic. JSON tags follow the
// remote service's camelCase wire format, including the legacy `_id`
// mirror and the `formCaseIdGenerated` assignment field.
package domain
