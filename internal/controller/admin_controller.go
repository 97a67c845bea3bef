package controller

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"questionnaire_backend/internal/config"
	"questionnaire_backend/internal/importer"
	"questionnaire_backend/internal/service"
	"questionnaire_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type AdminController struct {
	AdminService  *service.AdminService
	ImportService *service.ImportService
	AuthService   *service.AuthService
	Cfg           *config.Config
}

func NewAdminController(admin *service.AdminService, imp *service.ImportService, auth *service.AuthService, cfg *config.Config) *AdminController {
	return &AdminController{
		AdminService:  admin,
		ImportService: imp,
		AuthService:   auth,
		Cfg:           cfg,
	}
}

// ApproveRequest swagger:model ApproveRequest
type ApproveRequest struct {
	QuestionnaireID int64 `json:"questionnaire_id" binding:"required"`
	Approve         *bool `json:"approve" binding:"required"`
}

// DashboardStats godoc
// @Summary 管理后台统计
// @Tags 管理员
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=service.DashboardStats}
// @Router /admin/dashboard-stats [get]
func (c *AdminController) DashboardStats(ctx *gin.Context) {
	stats, err := c.AdminService.DashboardStats(ctx.Request.Context())
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, stats)
}

// UserResponses godoc
// @Summary 导出用户答案
// @Description format 参数优先，其次 Accept 头，返回 CSV（默认）、JSON 或 XLSX；不指定 userId 时导出全部用户
// @Tags 管理员
// @Produce json
// @Produce text/csv
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security ApiKeyAuth
// @Param userId path int false "用户ID"
// @Param format query string false "json | csv | xlsx"
// @Success 200 {object} util.Response{data=[]service.ExportRecord}
// @Router /admin/user-responses/{userId} [get]
func (c *AdminController) UserResponses(ctx *gin.Context) {
	var userID int64
	if raw := ctx.Param("userId"); raw != "" {
		id, err := util.ParseID(raw)
		if err != nil {
			util.BadRequest(ctx, "invalid user id")
			return
		}
		userID = id
	}

	records, err := c.AdminService.UserResponses(ctx.Request.Context(), userID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	filename := fmt.Sprintf("user-responses-%s", time.Now().Format("20060102-150405"))
	if userID != 0 {
		filename = fmt.Sprintf("user-%d-responses-%s", userID, time.Now().Format("20060102-150405"))
	}

	switch exportFormat(ctx) {
	case "csv":
		data, err := service.WriteCSV(records)
		if err != nil {
			util.LogInternalError(ctx, err)
			return
		}
		ctx.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, filename))
		ctx.Data(http.StatusOK, util.MimeCSV+"; charset=utf-8", data)
	case "xlsx":
		data, err := service.WriteXLSX(records)
		if err != nil {
			util.LogInternalError(ctx, err)
			return
		}
		ctx.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.xlsx"`, filename))
		ctx.Data(http.StatusOK, util.MimeXLSX, data)
	default:
		util.Success(ctx, records)
	}
}

// exportFormat format 参数优先，其次 Accept 头，默认 CSV
func exportFormat(ctx *gin.Context) string {
	if f := strings.ToLower(ctx.Query("format")); f != "" {
		return f
	}
	accept := ctx.GetHeader("Accept")
	switch {
	case strings.Contains(accept, util.MimeXLSX):
		return "xlsx"
	case strings.Contains(accept, "application/json"):
		return "json"
	}
	return "csv"
}

// ImportQuestionnaires godoc
// @Summary 导入问卷（JSON）
// @Description 新 ID 以待审核状态创建；已有 ID 生成负数 ID 的待审核更新
// @Tags 管理员
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param body body []importer.Questionnaire true "问卷数组"
// @Success 200 {object} util.Response{data=service.ImportResult}
// @Failure 400 {object} util.Response
// @Router /admin/import-questionnaires [post]
func (c *AdminController) ImportQuestionnaires(ctx *gin.Context) {
	body, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	items, err := decodeImportBody(body)
	if err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	result, err := c.ImportService.Import(ctx.Request.Context(), items)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// decodeImportBody 接受数组，或带 questionnaires 字段的对象
func decodeImportBody(body []byte) ([]importer.Questionnaire, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("request body is empty")
	}
	var items []importer.Questionnaire
	if body[0] == '[' {
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var wrapper struct {
		Questionnaires []importer.Questionnaire `json:"questionnaires"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Questionnaires, nil
}

// ImportCSV godoc
// @Summary 导入问卷（CSV）
// @Description 上传 questionnaires、questions、junction 三个 CSV 文件；表头支持常见别名
// @Tags 管理员
// @Accept multipart/form-data
// @Produce json
// @Security ApiKeyAuth
// @Param questionnaires formData file true "questionnaires.csv"
// @Param questions formData file true "questions.csv"
// @Param junction formData file true "questionnaire_questions.csv"
// @Success 200 {object} util.Response{data=service.ImportResult}
// @Failure 400 {object} util.Response
// @Router /admin/import-csv [post]
func (c *AdminController) ImportCSV(ctx *gin.Context) {
	limit := int64(c.Cfg.Import.MaxUploadMB) << 20
	if limit > 0 {
		ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, limit)
	}

	var upload service.CSVUpload
	for _, f := range []struct {
		field string
		dst   *[]byte
	}{
		{"questionnaires", &upload.Questionnaires},
		{"questions", &upload.Questions},
		{"junction", &upload.Junctions},
	} {
		fh, err := ctx.FormFile(f.field)
		if err != nil {
			util.BadRequest(ctx, fmt.Sprintf("missing csv file %q", f.field))
			return
		}
		data, err := readFormFile(fh)
		if err != nil {
			util.BadRequest(ctx, err.Error())
			return
		}
		*f.dst = data
	}

	result, err := c.ImportService.ImportCSV(ctx.Request.Context(), upload)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	file, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// PendingQuestionnaires godoc
// @Summary 待审核问卷
// @Tags 管理员
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]service.PendingQuestionnaire}
// @Router /admin/pending-questionnaires [get]
func (c *AdminController) PendingQuestionnaires(ctx *gin.Context) {
	list, err := c.ImportService.ListPending(ctx.Request.Context())
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, list)
}

// ApproveQuestionnaire godoc
// @Summary 审核问卷
// @Description approve=true 发布新问卷或合并待审核更新；approve=false 删除待审核内容
// @Tags 管理员
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param body body ApproveRequest true "审核结果"
// @Success 200 {object} util.Response{data=service.ApprovalResult}
// @Failure 400 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /admin/approve-questionnaire [post]
func (c *AdminController) ApproveQuestionnaire(ctx *gin.Context) {
	var req ApproveRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	result, err := c.ImportService.Approve(ctx.Request.Context(), req.QuestionnaireID, *req.Approve)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// ResetQuestionnaire godoc
// @Summary 重置问卷
// @Description 删除题目关联，可选保留答案、删除待审核更新
// @Tags 管理员
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param body body service.ResetRequest true "重置选项"
// @Success 200 {object} util.Response{data=service.ResetResult}
// @Failure 404 {object} util.Response
// @Router /admin/reset-questionnaire [post]
func (c *AdminController) ResetQuestionnaire(ctx *gin.Context) {
	var req service.ResetRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	result, err := c.ImportService.Reset(ctx.Request.Context(), req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// Users godoc
// @Summary 用户列表
// @Tags 管理员
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]model.User}
// @Router /admin/users [get]
func (c *AdminController) Users(ctx *gin.Context) {
	users, err := c.AuthService.ListUsers(ctx.Request.Context())
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, users)
}
