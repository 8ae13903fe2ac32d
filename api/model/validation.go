package model

import (
	"fmt"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/fyerfyer/contract-qa/internal/layout"
	"github.com/fyerfyer/contract-qa/internal/models"
)

var documentStatuses = map[string]bool{
	string(models.DocStatusUploaded):   true,
	string(models.DocStatusProcessing): true,
	string(models.DocStatusCompleted):  true,
	string(models.DocStatusFailed):     true,
}

var paragraphRoles = map[string]bool{
	layout.RoleTitle:          true,
	layout.RoleSectionHeading: true,
	layout.RolePageHeader:     true,
	layout.RolePageFooter:     true,
	layout.RolePageNumber:     true,
	layout.RoleFootnote:       true,
}

// RegisterValidators 向gin的校验器注册自定义规则
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
	}
	if err := v.RegisterValidation("docstatus", func(fl validator.FieldLevel) bool {
		return documentStatuses[fl.Field().String()]
	}); err != nil {
		return err
	}
	return v.RegisterValidation("paragraphrole", func(fl validator.FieldLevel) bool {
		return paragraphRoles[fl.Field().String()]
	})
}

// ValidationMessage 把校验错误转换为可读信息
func ValidationMessage(err error) string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok || len(errs) == 0 {
		return err.Error()
	}
	fe := errs[0]
	if fe.Param() != "" {
		return fmt.Sprintf("field %s failed on %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("field %s failed on %s", fe.Field(), fe.Tag())
}
