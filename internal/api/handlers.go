package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "kestrel",
		"boot_id": s.kernel.BootID.String(),
	})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listProcesses(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"processes": s.kernel.Processes()})
}

func (s *Server) getProcess(c *gin.Context) {
	pid, ok := s.pidParam(c)
	if !ok {
		return
	}
	info, ok := s.kernel.Process(pid)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such process"})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) restartProcess(c *gin.Context) {
	pid, ok := s.pidParam(c)
	if !ok {
		return
	}
	if err := s.kernel.RestartProcess(pid); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	info, _ := s.kernel.Process(pid)
	c.JSON(http.StatusOK, info)
}

func (s *Server) stopProcess(c *gin.Context) {
	pid, ok := s.pidParam(c)
	if !ok {
		return
	}
	if err := s.kernel.StopProcess(pid); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	info, _ := s.kernel.Process(pid)
	c.JSON(http.StatusOK, info)
}

func (s *Server) kernelAttrs(c *gin.Context) {
	a := s.kernel.Attrs()
	c.JSON(http.StatusOK, gin.H{
		"version":           a.Version,
		"kernel_flash_base": a.KernelFlash.Base,
		"kernel_flash_size": a.KernelFlash.Size,
		"app_ram_base":      a.AppRAM.Base,
		"app_ram_size":      a.AppRAM.Size,
	})
}

func (s *Server) pidParam(c *gin.Context) (int, bool) {
	pid, err := strconv.Atoi(c.Param("id"))
	if err != nil || pid < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid process id"})
		return 0, false
	}
	return pid, true
}
