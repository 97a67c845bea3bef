package controller

import (
	"questionnaire_backend/internal/service"
	"questionnaire_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type ResponseController struct {
	ResponseService *service.ResponseService
}

func NewResponseController(rs *service.ResponseService) *ResponseController {
	return &ResponseController{ResponseService: rs}
}

// Submit godoc
// @Summary 提交问卷答案
// @Description 在同一事务中保存全部答案并标记完成；重复提交会覆盖之前的答案
// @Tags 答卷
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param body body service.SubmitRequest true "答案"
// @Success 200 {object} util.Response{data=service.SubmitResult}
// @Failure 400 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /responses/submit [post]
func (c *ResponseController) Submit(ctx *gin.Context) {
	var req service.SubmitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	result, err := c.ResponseService.Submit(ctx.Request.Context(), util.GetUserFromContext(ctx), req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// Delete godoc
// @Summary 删除答卷
// @Description 删除用户在某问卷下的全部答案和完成记录，仅本人或管理员可操作
// @Tags 答卷
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param body body service.DeleteResponsesRequest true "用户和问卷"
// @Success 200 {object} util.Response{data=object}
// @Failure 403 {object} util.Response
// @Router /responses/delete [delete]
func (c *ResponseController) Delete(ctx *gin.Context) {
	var req service.DeleteResponsesRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	deleted, err := c.ResponseService.Delete(ctx.Request.Context(), util.GetUserFromContext(ctx), req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"deleted": deleted})
}

// Completions godoc
// @Summary 当前用户的完成记录
// @Tags 答卷
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]model.QuestionnaireCompletion}
// @Router /responses/completions [get]
func (c *ResponseController) Completions(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	list, err := c.ResponseService.ListCompletions(ctx.Request.Context(), claims.UserID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, list)
}
