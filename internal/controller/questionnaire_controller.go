package controller

import (
	"questionnaire_backend/internal/service"
	"questionnaire_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type QuestionnaireController struct {
	QuestionnaireService *service.QuestionnaireService
	ResponseService      *service.ResponseService
}

func NewQuestionnaireController(qs *service.QuestionnaireService, rs *service.ResponseService) *QuestionnaireController {
	return &QuestionnaireController{QuestionnaireService: qs, ResponseService: rs}
}

// List godoc
// @Summary 问卷列表
// @Description 普通用户只返回已发布问卷；管理员可通过 include_pending=true 查看待审核问卷
// @Tags 问卷
// @Produce json
// @Security ApiKeyAuth
// @Param include_pending query bool false "是否包含待审核问卷（仅管理员）"
// @Success 200 {object} util.Response{data=[]service.QuestionnaireSummary}
// @Router /questionnaires [get]
func (c *QuestionnaireController) List(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	includePending := claims.IsAdmin && ctx.Query("include_pending") == "true"

	list, err := c.QuestionnaireService.List(ctx.Request.Context(), claims.UserID, includePending)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, list)
}

// Get godoc
// @Summary 问卷详情
// @Tags 问卷
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "问卷ID"
// @Success 200 {object} util.Response{data=service.QuestionnaireDetail}
// @Failure 404 {object} util.Response
// @Router /questionnaires/{id} [get]
func (c *QuestionnaireController) Get(ctx *gin.Context) {
	id, err := util.ParseID(ctx.Param("id"))
	if err != nil {
		util.BadRequest(ctx, "invalid questionnaire id")
		return
	}
	claims := util.GetUserFromContext(ctx)

	detail, err := c.QuestionnaireService.Get(ctx.Request.Context(), id, claims.IsAdmin)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, detail)
}

// Prefill godoc
// @Summary 获取预填答案
// @Description 优先返回本问卷已有答案，否则使用其他问卷中相同题目文本的最新答案
// @Tags 问卷
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "问卷ID"
// @Success 200 {object} util.Response{data=service.PrefillResult}
// @Failure 404 {object} util.Response
// @Router /questionnaires/{id}/prefill [get]
func (c *QuestionnaireController) Prefill(ctx *gin.Context) {
	id, err := util.ParseID(ctx.Param("id"))
	if err != nil {
		util.BadRequest(ctx, "invalid questionnaire id")
		return
	}

	result, err := c.ResponseService.Prefill(ctx.Request.Context(), util.GetUserFromContext(ctx), id)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, result)
}
