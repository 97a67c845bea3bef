package util

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"questionnaire_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound          = errors.New("user not found")
	ErrUsernameTaken         = errors.New("username already registered")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrPermissionDenied      = errors.New("permission denied")
	ErrQuestionnaireNotFound = errors.New("questionnaire not found")
	ErrQuestionNotFound      = errors.New("question not found")
	ErrNotPending            = errors.New("questionnaire is not pending approval")
	ErrPendingTargetMissing  = errors.New("original questionnaire of pending update no longer exists")
	ErrIDAllocation          = errors.New("could not allocate a free negative id")
)

// ValidationError 请求字段校验失败，映射为 400
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// DBError 数据库错误，保留驱动返回的错误码和详情
type DBError struct {
	Op     string
	Code   string
	Detail string
	Err    error
}

func (e *DBError) Error() string {
	msg := e.Op + ": " + e.Err.Error()
	if e.Code != "" {
		msg += " (code " + e.Code + ")"
	}
	return msg
}

func (e *DBError) Unwrap() error {
	return e.Err
}

// WrapDBError 为错误附加操作名和驱动错误码，nil 原样返回
func WrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *DBError
	if errors.As(err, &existing) {
		return err
	}
	dbErr := &DBError{Op: op, Err: err}
	var myErr *mysql.MySQLError
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &myErr):
		dbErr.Code = fmt.Sprintf("%d", myErr.Number)
		dbErr.Detail = myErr.Message
	case errors.As(err, &pgErr):
		dbErr.Code = pgErr.Code
		dbErr.Detail = pgErr.Detail
	}
	return dbErr
}

// IsDuplicateKey 是否唯一约束冲突
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

// IsMissingTable 表尚未创建
func IsMissingTable(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1146 {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "no such table")
}

// HandleError 将业务错误映射为 HTTP 响应
func HandleError(c *gin.Context, err error) {
	var vErr *ValidationError
	var dbErr *DBError
	switch {
	case errors.As(err, &vErr):
		BadRequest(c, vErr.Error())
	case errors.Is(err, ErrInvalidCredentials):
		Error(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrPermissionDenied):
		Forbidden(c)
	case errors.Is(err, ErrUsernameTaken):
		Error(c, http.StatusConflict, err.Error())
	case errors.Is(err, ErrQuestionnaireNotFound),
		errors.Is(err, ErrQuestionNotFound),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrPendingTargetMissing),
		errors.Is(err, gorm.ErrRecordNotFound):
		Error(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotPending):
		BadRequest(c, err.Error())
	case errors.As(err, &dbErr):
		logger.Log.Error("database error",
			zap.String("path", c.FullPath()),
			zap.String("op", dbErr.Op),
			zap.String("db_code", dbErr.Code),
			zap.String("detail", dbErr.Detail),
			zap.Error(dbErr.Err),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    http.StatusInternalServerError,
			Message: dbErr.Op + " failed",
			DBCode:  dbErr.Code,
			Detail:  dbErr.Detail,
		})
	default:
		LogInternalError(c, err)
	}
}
