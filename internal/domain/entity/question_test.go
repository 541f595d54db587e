package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuestion_IsValidChoice(t *testing.T) {
	// Arrange
	question := &Question{
		ID:      1,
		Text:    "Столица Казахстана?",
		Options: map[string]string{"A": "Алматы", "B": "Астана", "C": "Шымкент"},
	}

	// Act & Assert
	assert.True(t, question.IsValidChoice("A"), "буква A должна быть валидной")
	assert.True(t, question.IsValidChoice("B"), "буква B должна быть валидной")
	assert.False(t, question.IsValidChoice("D"), "буква D отсутствует в вариантах")
	assert.False(t, question.IsValidChoice(""), "пустой выбор невалиден")
	assert.False(t, question.IsValidChoice("a"), "буквы регистрозависимы")
}

func TestQuestion_IsAnswered(t *testing.T) {
	question := &Question{ID: 1}
	assert.False(t, question.IsAnswered(), "вопрос без вердикта не отвечен")

	question.UserAnswerDetails = &UserAnswerDetails{SelectedChoice: "A", IsCorrect: false}
	assert.True(t, question.IsAnswered(), "вопрос с вердиктом сервера отвечен")
}
