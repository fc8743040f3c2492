package validation

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestValidatePromptRejectsEmpty(t *testing.T) {
	assert.Error(t, ValidatePrompt(""))
	assert.Error(t, ValidatePrompt("   "))
}

func TestValidatePromptRejectsOversized(t *testing.T) {
	assert.Error(t, ValidatePrompt(strings.Repeat("x", maxPromptLength+1)))
}

func TestValidatePromptAcceptsNormalInput(t *testing.T) {
	assert.NoError(t, ValidatePrompt("what is this about?"))
}

func TestValidateChatIDRequiresUUID(t *testing.T) {
	assert.Error(t, ValidateChatID(""))
	assert.Error(t, ValidateChatID("not-a-uuid"))
	assert.NoError(t, ValidateChatID(uuid.New().String()))
}

func TestValidateBotNameRejectsBadCharacters(t *testing.T) {
	assert.NoError(t, ValidateBotName("support-bot_1"))
	assert.Error(t, ValidateBotName(""))
	assert.Error(t, ValidateBotName("support bot"))
	assert.Error(t, ValidateBotName("support/bot"))
}

func TestValidateExtraBotsRejectsSelfAndDuplicates(t *testing.T) {
	assert.NoError(t, ValidateExtraBots("main", []string{"peer-a", "peer-b"}))
	assert.Error(t, ValidateExtraBots("main", []string{"main"}))
	assert.Error(t, ValidateExtraBots("main", []string{"peer", "peer"}))
}
