package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rules "github.com/goliatone/go-rules"
	"github.com/goliatone/go-rules/dispatch"
)

const ruleFile = `
version: 1
eventTemplates:
  - id: "12"
    requesterType: registers
    operation: Create
    taskTemplateId: 4
    data:
      record:
        registerId: 3
        keyId: 1
        saveTo: 11.registry.recordId
        map:
          name: "() => document(11).data.step.text"
          number: custom.executiveDocument.generateNumber
  - id: "13"
    requesterType: externalService
    operation: create
    data:
      send:
        providerName: tax.submit
        documentTemplateId: 11
  - id: "14"
    requesterType: registers
    operation: create
    data:
      record: "(documents) => ({registerId: 3, data: {}})"
statuses:
  - taskTemplateId: 4
    calculate: |
      (documents) => [{"type": "done", "label": "Registered", "description": ""}]
  - taskTemplateId: 5
    statusId: 3
`

func TestParseRuleSet(t *testing.T) {
	set, err := ParseRuleSet([]byte(ruleFile))
	require.NoError(t, err)

	assert.Equal(t, []string{"12", "13", "14"}, set.IDs())
	tpl, ok := set.Template("12")
	require.True(t, ok)
	assert.Equal(t, dispatch.OpCreate, tpl.Operation)
	require.NotNil(t, tpl.Data.Record)
	assert.Equal(t, "11.registry.recordId", tpl.Data.Record.SaveTo)
	assert.Equal(t, []string{"name", "number"}, tpl.Data.Record.Map.Names())

	raw, _ := set.Template("14")
	assert.True(t, raw.Data.Record.IsRaw())

	send, _ := set.Template("13")
	assert.Equal(t, "tax.submit", send.Data.Send.ProviderName)
	assert.Len(t, set.Statuses, 2)
}

func TestParseRuleSetRejectsInvalidTemplates(t *testing.T) {
	cases := map[string]string{
		"unknown requester": `eventTemplates: [{id: "1", requesterType: mailer, operation: create}]`,
		"unknown operation": `eventTemplates: [{id: "1", requesterType: document, operation: upsert}]`,
		"missing record":    `eventTemplates: [{id: "1", requesterType: registers, operation: create}]`,
		"external update":   `eventTemplates: [{id: "1", requesterType: externalService, operation: update, data: {send: {providerName: x}}}]`,
		"missing anchor":    `eventTemplates: [{id: "1", requesterType: blockchain, operation: create}]`,
		"duplicate id":      `eventTemplates: [{id: "1", requesterType: document, operation: get}, {id: "1", requesterType: document, operation: get}]`,
		"bad status rule":   `statuses: [{taskTemplateId: 1, statusId: 2, calculate: "() => []"}]`,
		"unknown task":      `eventTemplates: [{id: "1", requesterType: document, operation: get, taskTemplateId: 9}]`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRuleSet([]byte(content))
			require.Error(t, err)
			assert.True(t, rules.IsConfigurationError(err))
		})
	}
}

func TestLoadRuleSetsMergesFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", `eventTemplates: [{id: "1", requesterType: document, operation: get}]`)
	writeFile(t, dir, "b.json", `{"version": 2, "eventTemplates": [{"id": "2", "requesterType": "servicesRepository", "operation": "delete"}]}`)

	set, err := LoadRuleSets(filepath.Join(dir, "*.yaml"), filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	assert.Equal(t, 2, set.Version)
	assert.Equal(t, []string{"1", "2"}, set.IDs())

	_, err = LoadRuleSets(filepath.Join(dir, "*.toml"))
	assert.True(t, rules.IsConfigurationError(err))
}
