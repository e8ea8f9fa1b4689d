package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// PublishMethod определяет, как пост попадает в блог назначения.
type PublishMethod string

const (
	MethodAPI   PublishMethod = "api"
	MethodEmail PublishMethod = "email"
)

const (
	DefaultSMTPServer = "smtp.gmail.com"
	DefaultSMTPPort   = 587
)

// bloggerEmailPattern: localpart.secretkey@blogger.com
var bloggerEmailPattern = regexp.MustCompile(`^[^\s@.][^\s@]*\.[^\s@.]+@blogger\.com$`)

var blogIDPattern = regexp.MustCompile(`^\d+$`)

// ValidBloggerEmail проверяет адрес публикации по email в Blogger.
func ValidBloggerEmail(addr string) bool {
	return bloggerEmailPattern.MatchString(addr)
}

func ValidBlogID(id string) bool {
	return blogIDPattern.MatchString(id)
}

// PublisherConfig описывает один блог назначения. Секреты не попадают в JSON.
type PublisherConfig struct {
	ID            string        `json:"id"`
	BlogName      string        `json:"blog_name"`
	BlogID        string        `json:"blog_id,omitempty"`
	APIKey        string        `json:"-"`
	EmailAddress  string        `json:"email_address,omitempty"`
	SMTPServer    string        `json:"smtp_server"`
	SMTPPort      int           `json:"smtp_port"`
	SMTPUsername  string        `json:"smtp_username,omitempty"`
	SMTPPassword  string        `json:"-"`
	PublishMethod PublishMethod `json:"publish_method"`
	IsDefault     bool          `json:"is_default"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ApplyDefaults заполняет SMTP-настройки по умолчанию.
func (c *PublisherConfig) ApplyDefaults() {
	if c.SMTPServer == "" {
		c.SMTPServer = DefaultSMTPServer
	}
	if c.SMTPPort == 0 {
		c.SMTPPort = DefaultSMTPPort
	}
}

// Validate проверяет обязательные поля выбранного способа публикации.
func (c *PublisherConfig) Validate() error {
	if strings.TrimSpace(c.BlogName) == "" {
		return Errorf(KindValidation, "validate config", "blog name is required")
	}
	switch c.PublishMethod {
	case MethodAPI:
		if c.BlogID == "" {
			return Errorf(KindValidation, "validate config", "blog id is required for API publishing")
		}
		if c.APIKey == "" {
			return Errorf(KindValidation, "validate config", "API key is required for API publishing")
		}
	case MethodEmail:
		if c.EmailAddress == "" {
			return Errorf(KindValidation, "validate config", "blogger email address is required for email publishing")
		}
		if !ValidBloggerEmail(c.EmailAddress) {
			return Errorf(KindValidation, "validate config", "invalid blogger email format: %s", c.EmailAddress)
		}
		if c.SMTPUsername == "" {
			return Errorf(KindValidation, "validate config", "SMTP username is required for email publishing")
		}
		if c.SMTPPassword == "" {
			return Errorf(KindValidation, "validate config", "SMTP password is required for email publishing")
		}
	case "":
		return Errorf(KindValidation, "validate config", "publish method is required")
	default:
		return Errorf(KindValidation, "validate config", "invalid publish method: %s", c.PublishMethod)
	}
	return nil
}

// RequiredFields перечисляет обязательные поля способа публикации.
func RequiredFields(method PublishMethod) []string {
	switch method {
	case MethodAPI:
		return []string{"blog_name", "blog_id", "api_key"}
	case MethodEmail:
		return []string{"blog_name", "email_address", "smtp_username", "smtp_password"}
	}
	return nil
}

// LogFields возвращает поля для логов без секретов.
func (c *PublisherConfig) LogFields() map[string]interface{} {
	return map[string]interface{}{
		"config_id":      c.ID,
		"blog_name":      c.BlogName,
		"publish_method": c.PublishMethod,
	}
}

func (c PublisherConfig) String() string {
	return fmt.Sprintf("PublisherConfig{id=%s blog=%q method=%s default=%t api_key=%s smtp_password=%s}",
		c.ID, c.BlogName, c.PublishMethod, c.IsDefault, mask(c.APIKey), mask(c.SMTPPassword))
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}
