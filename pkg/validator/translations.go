package validator

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

// registerCustomTranslations registers translations for custom validation rules.
func (v *Validator) registerCustomTranslations() {
	if enTrans := v.GetTranslator(LangEN); enTrans != nil {
		v.registerEnglishTranslations(enTrans)
	}
	if zhTrans := v.GetTranslator(LangZH); zhTrans != nil {
		v.registerChineseTranslations(zhTrans)
	}
}

func (v *Validator) registerEnglishTranslations(trans ut.Translator) {
	translations := map[string]string{
		TagSessionID:    "{0} may only contain letters, numbers, underscores and hyphens (1-64 characters)",
		TagHTTPURL:      "{0} must be an absolute http or https URL",
		TagSelector:     "{0} must be a valid CSS selector",
		TagNoWhitespace: "{0} must not contain whitespace characters",
		TagTrimmed:      "{0} must not have leading or trailing spaces",
	}

	for tag, message := range translations {
		registerTranslation(v.validate, trans, tag, message)
	}
}

func (v *Validator) registerChineseTranslations(trans ut.Translator) {
	translations := map[string]string{
		TagSessionID:    "{0}只能包含字母、数字、下划线和连字符（1-64个字符）",
		TagHTTPURL:      "{0}必须是完整的 http 或 https 地址",
		TagSelector:     "{0}必须是有效的 CSS 选择器",
		TagNoWhitespace: "{0}不能包含空白字符",
		TagTrimmed:      "{0}不能有前导或尾随空格",
	}

	for tag, message := range translations {
		registerTranslation(v.validate, trans, tag, message)
	}
}

// registerTranslation registers a single translation.
func registerTranslation(validate *validator.Validate, trans ut.Translator, tag, message string) {
	_ = validate.RegisterTranslation(tag, trans,
		func(ut ut.Translator) error {
			return ut.Add(tag, message, true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T(tag, fe.Field())
			return t
		},
	)
}
